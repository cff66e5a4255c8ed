package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/jobs"
	"github.com/noah-isme/edunotice/pkg/storage"
)

type captureQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *captureQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type stubReaderRunner struct {
	body   string
	source string
	runID  string
	err    error
}

func (s *stubReaderRunner) RunReader(ctx context.Context, source string, r io.Reader) (*models.Run, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.body, s.source, s.runID = string(data), source, runIDFromContext(ctx)
	finished := time.Now().UTC()
	run := &models.Run{ID: s.runID, Source: source, Status: models.RunStatusFinished, FinishedAt: &finished, Inserted: 2}
	if s.err != nil {
		msg := s.err.Error()
		run.Status, run.ErrorMessage = models.RunStatusFailed, &msg
	}
	return run, s.err
}

func newRunQueueForTest(t *testing.T, maxBytes int64) (*RunQueueService, *storage.LocalStorage, *captureQueue, *stubReaderRunner) {
	t.Helper()
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	runner := &stubReaderRunner{}
	queue := &captureQueue{}
	svc := NewRunQueueService(archive, runner, maxBytes, nil)
	svc.AttachQueue(queue)
	return svc, archive, queue, runner
}

func TestRunQueueServiceSubmitAndHandle(t *testing.T) {
	ctx := context.Background()
	svc, _, queue, runner := newRunQueueForTest(t, 1024)

	run, err := svc.Submit(ctx, "crawl.csv", strings.NewReader("header\nrow\n"))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, "crawl.csv", run.Source)
	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, run.ID, job.ID)
	assert.Equal(t, jobTypeCrawl, job.Type)
	assert.Contains(t, job.Payload, run.ID+".csv")

	require.NoError(t, svc.Handle(ctx, job))
	assert.Equal(t, "header\nrow\n", runner.body)
	assert.Equal(t, "crawl.csv", runner.source)
	assert.Equal(t, run.ID, runner.runID)

	stored, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, stored.Status)
	assert.Equal(t, 2, stored.Inserted)
}

func TestRunQueueServiceHandleFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, queue, runner := newRunQueueForTest(t, 0)
	runner.err = errors.New("missing column")

	run, err := svc.Submit(ctx, "crawl.csv", strings.NewReader("x"))
	require.NoError(t, err)
	require.Error(t, svc.Handle(ctx, queue.jobs[0]))
	svc.OnFailure(queue.jobs[0], runner.err)

	stored, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "missing column", *stored.ErrorMessage)
}

func TestRunQueueServiceMissingArchive(t *testing.T) {
	ctx := context.Background()
	svc, archive, queue, _ := newRunQueueForTest(t, 0)

	run, err := svc.Submit(ctx, "crawl.csv", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, archive.Delete(queue.jobs[0].Payload.(string)))

	require.Error(t, svc.Handle(ctx, queue.jobs[0]))
	stored, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
}

func TestRunQueueServiceRejectsLargeUploads(t *testing.T) {
	svc, _, queue, _ := newRunQueueForTest(t, 4)

	_, err := svc.Submit(context.Background(), "crawl.csv", strings.NewReader("too large"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInput))
	assert.Empty(t, queue.jobs)
}

func TestRunQueueServiceQueueFull(t *testing.T) {
	svc, archive, queue, _ := newRunQueueForTest(t, 0)
	queue.err = jobs.ErrQueueFull

	_, err := svc.Submit(context.Background(), "crawl.csv", strings.NewReader("x"))
	assert.True(t, appErrors.Is(err, appErrors.ErrRunInProgress))
	svc.mu.RLock()
	assert.Empty(t, svc.runs)
	svc.mu.RUnlock()

	removed, err := archive.CleanupOlderThan(-time.Hour)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestRunQueueServiceWithoutQueue(t *testing.T) {
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewRunQueueService(archive, &stubReaderRunner{}, 0, nil)

	_, err = svc.Submit(context.Background(), "crawl.csv", strings.NewReader("x"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))

	_, err = svc.Get("missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRunQueueServiceWithWorkerPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	runner := &stubReaderRunner{}
	svc := NewRunQueueService(archive, runner, 0, nil)

	queue := jobs.NewQueue("runs", svc.Handle, jobs.QueueConfig{Workers: 1, BufferSize: 2, OnFailure: svc.OnFailure})
	queue.Start(ctx)
	defer queue.Stop()
	svc.AttachQueue(queue)

	run, err := svc.Submit(ctx, "crawl.csv", strings.NewReader("rows"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := svc.Get(run.ID)
		return err == nil && stored.Status == models.RunStatusFinished
	}, 2*time.Second, 10*time.Millisecond)
}
