package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

type stubIngester struct {
	result *models.IngestResult
	err    error
	rows   []models.CrawlRow
}

func (s *stubIngester) Ingest(_ context.Context, rows []models.CrawlRow) (*models.IngestResult, error) {
	s.rows = rows
	return s.result, s.err
}

type stubDispatcher struct {
	counts models.NoticeCounts
	err    error
	called bool
	today  time.Time
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ *models.IngestResult, today time.Time) (models.NoticeCounts, error) {
	s.called = true
	s.today = today
	return s.counts, s.err
}

type stubLocker struct {
	held     bool
	acquired []string
	released []string
}

func (s *stubLocker) Acquire(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	if s.held {
		return false, nil
	}
	s.held = true
	s.acquired = append(s.acquired, key+"="+token)
	return true, nil
}

func (s *stubLocker) Release(_ context.Context, key, token string) error {
	s.held = false
	s.released = append(s.released, key+"="+token)
	return nil
}

var runClock = time.Date(2020, time.November, 10, 22, 30, 0, 0, time.UTC)

func ingestResultForRun() *models.IngestResult {
	watermark := runClock
	return &models.IngestResult{
		New:       []models.Detail{{ID: 1}},
		Updated:   []models.DetailPair{{}, {}},
		Inserted:  3,
		Skipped:   1,
		Watermark: &watermark,
	}
}

func newRunServiceForTest(ingest *stubIngester, dispatch *stubDispatcher, lock runLocker, cfg RunConfig, metrics *MetricsService) *RunService {
	return NewRunService(NewCrawlParser(nil), ingest, dispatch, lock, cfg, metrics, nil).
		WithClock(func() time.Time { return runClock })
}

func TestRunServiceRunFinishes(t *testing.T) {
	ingest := &stubIngester{result: ingestResultForRun()}
	dispatch := &stubDispatcher{counts: models.NoticeCounts{New: 1, Usage: 2}}
	metrics := NewMetricsService()
	svc := newRunServiceForTest(ingest, dispatch, nil, RunConfig{}, metrics)

	ctx := WithRunID(context.Background(), "run-1")
	run, err := svc.Run(ctx, "crawl.csv", []models.CrawlRow{{}})
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, models.RunStatusFinished, run.Status)
	assert.Equal(t, 3, run.Inserted)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.New)
	assert.Equal(t, 2, run.Updated)
	assert.Equal(t, 3, run.Counts.Total())
	assert.Nil(t, run.ErrorMessage)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, date(2020, time.November, 10), dispatch.today)
	assert.Equal(t, float64(runClock.Unix()), testutil.ToFloat64(metrics.lastWatermark))
}

func TestRunServiceRecordsDeliveryFailures(t *testing.T) {
	dispatch := &stubDispatcher{counts: models.NoticeCounts{New: 1}, err: errors.New("usage notices: relay down")}
	svc := newRunServiceForTest(&stubIngester{result: ingestResultForRun()}, dispatch, nil, RunConfig{}, nil)

	run, err := svc.Run(context.Background(), "crawl.csv", []models.CrawlRow{{}})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "relay down")
	assert.Equal(t, 1, run.Counts.New)
}

func TestRunServicePartialIngestStillDispatches(t *testing.T) {
	result := ingestResultForRun()
	result.Watermark = nil
	ingest := &stubIngester{result: result, err: errors.New("subscription sub-9: deadlock")}
	dispatch := &stubDispatcher{counts: models.NoticeCounts{New: 1}}
	svc := newRunServiceForTest(ingest, dispatch, nil, RunConfig{}, nil)

	run, err := svc.Run(context.Background(), "crawl.csv", []models.CrawlRow{{}})
	require.Error(t, err)
	assert.True(t, dispatch.called)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Counts.New)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "sub-9")
}

func TestRunServiceIngestFailureSkipsDispatch(t *testing.T) {
	ingest := &stubIngester{err: appErrors.Clone(appErrors.ErrEmptyBatch, "")}
	dispatch := &stubDispatcher{}
	svc := newRunServiceForTest(ingest, dispatch, nil, RunConfig{}, nil)

	run, err := svc.Run(context.Background(), "crawl.csv", nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmptyBatch))
	assert.False(t, dispatch.called)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestRunServiceRunLock(t *testing.T) {
	lock := &stubLocker{}
	svc := newRunServiceForTest(&stubIngester{result: ingestResultForRun()}, &stubDispatcher{}, lock, RunConfig{Lock: true}, nil)

	ctx := WithRunID(context.Background(), "run-1")
	_, err := svc.Run(ctx, "crawl.csv", []models.CrawlRow{{}})
	require.NoError(t, err)
	assert.Equal(t, []string{runLockKey + "=run-1"}, lock.acquired)
	assert.Equal(t, []string{runLockKey + "=run-1"}, lock.released)

	lock.held = true
	run, err := svc.Run(ctx, "crawl.csv", []models.CrawlRow{{}})
	assert.True(t, appErrors.Is(err, appErrors.ErrRunInProgress))
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Len(t, lock.released, 1)
}

func TestRunServiceLockDisabledIgnoresLocker(t *testing.T) {
	lock := &stubLocker{held: true}
	svc := newRunServiceForTest(&stubIngester{result: ingestResultForRun()}, &stubDispatcher{}, lock, RunConfig{}, nil)

	run, err := svc.Run(context.Background(), "crawl.csv", []models.CrawlRow{{}})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, run.Status)
}

func TestRunServiceRunReader(t *testing.T) {
	ingest := &stubIngester{result: ingestResultForRun()}
	svc := newRunServiceForTest(ingest, &stubDispatcher{}, nil, RunConfig{}, nil)

	input := crawlHeader + "Data Science,Lab 1,H,$100,$10,Accepted,sub-1,ML,Enabled,2020-12-10,a@x,2020-11-10 08:00:00\n"
	run, err := svc.RunReader(context.Background(), "upload.csv", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "upload.csv", run.Source)
	require.Len(t, ingest.rows, 1)
	assert.Equal(t, "sub-1", ingest.rows[0].SubscriptionID)

	run, err = svc.RunReader(context.Background(), "broken.csv", strings.NewReader("a,b\n1,2\n"))
	assert.True(t, appErrors.Is(err, appErrors.ErrSchema))
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestRunServiceRunFileMissing(t *testing.T) {
	svc := newRunServiceForTest(&stubIngester{}, &stubDispatcher{}, nil, RunConfig{}, nil)

	_, err := svc.RunFile(context.Background(), "/nonexistent/crawl.csv")
	assert.True(t, appErrors.Is(err, appErrors.ErrInput))
}
