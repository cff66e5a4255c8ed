package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

const runLockKey = "edunotice:run"

type runIDKey struct{}

// WithRunID makes the next run started with ctx use id instead of a fresh one.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type batchIngester interface {
	Ingest(ctx context.Context, rows []models.CrawlRow) (*models.IngestResult, error)
}

type resultDispatcher interface {
	Dispatch(ctx context.Context, result *models.IngestResult, today time.Time) (models.NoticeCounts, error)
}

type crawlReader interface {
	ParseCSV(r io.Reader) ([]models.CrawlRow, error)
}

type runLocker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// RunConfig tunes the run lock.
type RunConfig struct {
	Lock    bool
	LockTTL time.Duration
}

// RunService runs one crawl batch end to end: ingest, then notify.
type RunService struct {
	parser   crawlReader
	ingest   batchIngester
	dispatch resultDispatcher
	lock     runLocker
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      RunConfig
	now      func() time.Time
}

// NewRunService constructs the orchestrator. lock may be nil.
func NewRunService(parser crawlReader, ingest batchIngester, dispatch resultDispatcher, lock runLocker, cfg RunConfig, metrics *MetricsService, logger *zap.Logger) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &RunService{
		parser:   parser,
		ingest:   ingest,
		dispatch: dispatch,
		lock:     lock,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock that decides "today" for the ladders.
func (s *RunService) WithClock(now func() time.Time) *RunService {
	if now != nil {
		s.now = now
	}
	return s
}

// RunFile parses the crawl file at path and runs it.
func (s *RunService) RunFile(ctx context.Context, path string) (*models.Run, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInput.Code, appErrors.ErrInput.Status, fmt.Sprintf("open crawl file %s", path))
	}
	defer file.Close() //nolint:errcheck
	return s.RunReader(ctx, path, file)
}

// RunReader parses CSV from r and runs it.
func (s *RunService) RunReader(ctx context.Context, source string, r io.Reader) (*models.Run, error) {
	rows, err := s.parser.ParseCSV(r)
	if err != nil {
		run := s.newRun(ctx, source)
		s.fail(run, err)
		return run, err
	}
	return s.Run(ctx, source, rows)
}

// Run ingests rows and dispatches notices for every subscription that committed.
// Delivery failures are recorded on the run but do not fail it; ingestion errors do,
// after the committed subscriptions have been notified.
func (s *RunService) Run(ctx context.Context, source string, rows []models.CrawlRow) (*models.Run, error) {
	run := s.newRun(ctx, source)
	log := s.logger.With(zap.String("run_id", run.ID), zap.String("source", source))

	if s.cfg.Lock && s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, runLockKey, run.ID, s.cfg.LockTTL)
		if err != nil {
			s.fail(run, err)
			return run, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			err := appErrors.Clone(appErrors.ErrRunInProgress, "")
			s.fail(run, err)
			return run, err
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), runLockKey, run.ID); err != nil {
				log.Warn("release run lock", zap.Error(err))
			}
		}()
	}

	run.Status = models.RunStatusProcessing
	result, ingestErr := s.ingest.Ingest(ctx, rows)
	if result == nil {
		s.fail(run, ingestErr)
		return run, ingestErr
	}
	run.Inserted = result.Inserted
	run.Skipped = result.Skipped
	run.New = len(result.New)
	run.Updated = len(result.Updated)
	run.Watermark = result.Watermark

	today := civilDate(s.now())
	counts, sendErr := s.dispatch.Dispatch(ctx, result, today)
	run.Counts = counts

	if ingestErr != nil {
		s.fail(run, ingestErr)
		return run, ingestErr
	}

	finished := s.now()
	run.Status = models.RunStatusFinished
	run.FinishedAt = &finished
	if sendErr != nil {
		msg := sendErr.Error()
		run.ErrorMessage = &msg
		log.Warn("run finished with delivery failures", zap.Error(sendErr))
	}
	s.metrics.ObserveRun(string(run.Status), finished.Sub(run.StartedAt), run.Watermark)

	log.Info("run finished",
		zap.Int("inserted", run.Inserted),
		zap.Int("skipped", run.Skipped),
		zap.Int("new", run.New),
		zap.Int("updated", run.Updated),
		zap.Int("notices", counts.Total()),
	)
	return run, nil
}

func (s *RunService) newRun(ctx context.Context, source string) *models.Run {
	return &models.Run{
		ID:        runIDFromContext(ctx),
		Source:    source,
		Status:    models.RunStatusQueued,
		StartedAt: s.now(),
	}
}

func (s *RunService) fail(run *models.Run, err error) {
	finished := s.now()
	run.Status = models.RunStatusFailed
	run.FinishedAt = &finished
	if err != nil {
		msg := err.Error()
		run.ErrorMessage = &msg
	}
	s.metrics.ObserveRun(string(run.Status), finished.Sub(run.StartedAt), nil)
	s.logger.Error("run failed", zap.String("run_id", run.ID), zap.String("source", run.Source), zap.Error(err))
}
