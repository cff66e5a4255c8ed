package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/jobs"
	"github.com/noah-isme/edunotice/pkg/storage"
)

const jobTypeCrawl = "crawl"

type crawlArchive interface {
	SaveStream(name string, r io.Reader, limit int64) (string, int64, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
}

type readerRunner interface {
	RunReader(ctx context.Context, source string, r io.Reader) (*models.Run, error)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// RunQueueService archives uploaded crawl files and runs them one at a time in the background.
type RunQueueService struct {
	archive  crawlArchive
	runner   readerRunner
	queue    jobQueue
	maxBytes int64
	logger   *zap.Logger

	mu   sync.RWMutex
	runs map[string]*models.Run
}

// NewRunQueueService constructs the service. Call AttachQueue before Submit.
func NewRunQueueService(archive crawlArchive, runner readerRunner, maxBytes int64, logger *zap.Logger) *RunQueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunQueueService{
		archive:  archive,
		runner:   runner,
		maxBytes: maxBytes,
		logger:   logger,
		runs:     make(map[string]*models.Run),
	}
}

// AttachQueue sets the queue that Submit pushes to.
func (s *RunQueueService) AttachQueue(queue jobQueue) {
	s.queue = queue
}

// Submit stores the upload and queues a run for it.
func (s *RunQueueService) Submit(ctx context.Context, filename string, r io.Reader) (*models.Run, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "run queue not started")
	}
	id := uuid.NewString()
	relPath := fmt.Sprintf("crawls/%s/%s.csv", time.Now().UTC().Format("2006-01-02"), id)
	if _, _, err := s.archive.SaveStream(relPath, r, s.maxBytes); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrInput, fmt.Sprintf("crawl file exceeds %d bytes", s.maxBytes))
		}
		return nil, err
	}

	run := &models.Run{ID: id, Source: filename, Status: models.RunStatusQueued, StartedAt: time.Now().UTC()}
	s.store(run)

	if err := s.queue.Enqueue(jobs.Job{ID: id, Type: jobTypeCrawl, Payload: relPath}); err != nil {
		s.forget(id)
		_ = s.archive.Delete(relPath)
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Clone(appErrors.ErrRunInProgress, "run queue is full")
		}
		return nil, err
	}
	s.logger.Info("run queued", zap.String("run_id", id), zap.String("source", filename))
	return cloneRun(run), nil
}

// Get returns the latest known state of a run.
func (s *RunQueueService) Get(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "run not found")
	}
	return cloneRun(run), nil
}

// Handle is the queue handler executing one archived crawl file.
func (s *RunQueueService) Handle(ctx context.Context, job jobs.Job) error {
	relPath, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("run %s: unexpected payload %T", job.ID, job.Payload)
	}
	s.update(job.ID, func(run *models.Run) { run.Status = models.RunStatusProcessing })

	file, err := s.archive.Open(relPath)
	if err != nil {
		s.markFailed(job.ID, err)
		return err
	}
	defer file.Close() //nolint:errcheck

	source := job.ID
	s.mu.RLock()
	if run, ok := s.runs[job.ID]; ok {
		source = run.Source
	}
	s.mu.RUnlock()

	result, err := s.runner.RunReader(WithRunID(ctx, job.ID), source, file)
	if result != nil {
		s.store(result)
	}
	return err
}

// OnFailure marks a run failed after its last attempt.
func (s *RunQueueService) OnFailure(job jobs.Job, err error) {
	s.markFailed(job.ID, err)
}

func (s *RunQueueService) markFailed(id string, err error) {
	s.update(id, func(run *models.Run) {
		if run.Status == models.RunStatusFailed {
			return
		}
		now := time.Now().UTC()
		msg := err.Error()
		run.Status = models.RunStatusFailed
		run.FinishedAt = &now
		run.ErrorMessage = &msg
	})
}

func (s *RunQueueService) store(run *models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = cloneRun(run)
}

func (s *RunQueueService) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

func (s *RunQueueService) update(id string, fn func(*models.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

func cloneRun(run *models.Run) *models.Run {
	clone := *run
	return &clone
}
