package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

type transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type snapshotStore interface {
	Latest(ctx context.Context, subID int64) (*models.Detail, error)
	LatestBefore(ctx context.Context, subID int64, ts time.Time) (*models.Detail, error)
	Insert(ctx context.Context, detail *models.Detail) (bool, error)
}

type cursorResetter interface {
	ResetCursor(ctx context.Context, id int64, ladder models.Ladder) error
}

type watermarkStore interface {
	Insert(ctx context.Context, code int, ts time.Time) (*models.IngestLog, error)
	Latest(ctx context.Context, code int) (*models.IngestLog, error)
}

type rowValidator interface {
	ValidateRows(rows []models.CrawlRow) error
}

// IngestService replays crawl batches into the snapshot store.
type IngestService struct {
	resolver  *EntityResolver
	details   snapshotStore
	cursors   cursorResetter
	logs      watermarkStore
	tx        transactor
	validator rowValidator
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestService constructs the pipeline.
func NewIngestService(resolver *EntityResolver, details snapshotStore, cursors cursorResetter, logs watermarkStore, tx transactor, validator rowValidator, metrics *MetricsService, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewCrawlParser(nil)
	}
	return &IngestService{
		resolver:  resolver,
		details:   details,
		cursors:   cursors,
		logs:      logs,
		tx:        tx,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the completion timestamp source.
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	if now != nil {
		s.now = now
	}
	return s
}

// IngestBatch checks the columns of an in-memory batch and ingests its rows.
func (s *IngestService) IngestBatch(ctx context.Context, batch models.CrawlBatch) (*models.IngestResult, error) {
	if err := CheckColumns(batch.Columns); err != nil {
		return nil, err
	}
	return s.Ingest(ctx, batch.Rows)
}

// Ingest stores every row, classifies each subscription as new or updated and writes the
// completion marker. Each subscription commits on its own; when some fail the partial
// result is returned together with the combined error and no marker is written.
func (s *IngestService) Ingest(ctx context.Context, rows []models.CrawlRow) (*models.IngestResult, error) {
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInput, "crawl batch has no rows")
	}
	if err := s.validator.ValidateRows(rows); err != nil {
		return nil, err
	}

	sorted := make([]models.CrawlRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SubscriptionID != sorted[j].SubscriptionID {
			return sorted[i].SubscriptionID < sorted[j].SubscriptionID
		}
		return sorted[i].CrawlTimeUTC.Before(sorted[j].CrawlTimeUTC)
	})

	courses, err := s.resolver.ResolveCourses(ctx, sorted)
	if err != nil {
		return nil, err
	}
	labs, err := s.resolver.ResolveLabs(ctx, sorted, courses)
	if err != nil {
		return nil, err
	}
	subs, err := s.resolver.ResolveSubscriptions(ctx, sorted)
	if err != nil {
		return nil, err
	}

	result := &models.IngestResult{Courses: courses, Labs: labs, Subscriptions: subs}
	var errs error
	for _, group := range groupBySubscription(sorted) {
		guid := group[0].SubscriptionID
		out, err := s.replay(ctx, subs[guid], labs, group)
		if err != nil {
			s.logger.Error("subscription replay failed", zap.String("subscription", guid), zap.Error(err))
			result.Failures = append(result.Failures, models.SubscriptionFailure{GUID: guid, Error: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", guid, err))
			continue
		}
		result.Inserted += out.inserted
		result.Skipped += out.skipped
		if out.baseline == nil {
			result.New = append(result.New, *out.current)
		} else {
			result.Updated = append(result.Updated, models.DetailPair{Previous: *out.baseline, Current: *out.current})
		}
	}
	s.metrics.ObserveIngest(result.Inserted, result.Skipped, len(result.Failures))

	if errs != nil {
		return result, errs
	}

	marker, err := s.logs.Insert(ctx, models.LogCodeIngestSuccess, s.now())
	if err != nil {
		return result, fmt.Errorf("write ingest marker: %w", err)
	}
	result.Watermark = &marker.TimestampUTC

	s.logger.Info("crawl batch ingested",
		zap.Int("rows", len(rows)),
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("new", len(result.New)),
		zap.Int("updated", len(result.Updated)),
	)
	return result, nil
}

// LatestWatermark returns the completion time of the last successful ingestion.
func (s *IngestService) LatestWatermark(ctx context.Context) (*time.Time, error) {
	entry, err := s.logs.Latest(ctx, models.LogCodeIngestSuccess)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &entry.TimestampUTC, nil
}

type replayOutcome struct {
	baseline *models.Detail
	current  *models.Detail
	inserted int
	skipped  int
}

func (s *IngestService) replay(ctx context.Context, subID int64, labs map[models.LabKey]int64, rows []models.CrawlRow) (*replayOutcome, error) {
	var out *replayOutcome
	err := s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		out = &replayOutcome{}
		baseline, err := s.details.Latest(ctx, subID)
		if err != nil {
			return err
		}
		out.baseline = baseline

		prev := baseline
		for _, row := range rows {
			labID, ok := labs[models.LabKey{Course: row.CourseName, Lab: row.LabName}]
			if !ok {
				return fmt.Errorf("lab %q/%q not resolved", row.CourseName, row.LabName)
			}
			detail := &models.Detail{SnapshotData: snapshotFromRow(row, subID, labID)}

			cmp := prev
			if cmp != nil && !detail.TimestampUTC.After(cmp.TimestampUTC) {
				if cmp, err = s.details.LatestBefore(ctx, subID, detail.TimestampUTC); err != nil {
					return err
				}
			}
			detail.NewFlag = prev == nil
			detail.UpdateFlag = cmp != nil && DetailsChanged(cmp.SnapshotData, detail.SnapshotData)

			inserted, err := s.details.Insert(ctx, detail)
			if err != nil {
				return err
			}
			if !inserted {
				out.skipped++
				continue
			}
			out.inserted++
			if prev == nil || detail.TimestampUTC.After(prev.TimestampUTC) {
				prev = detail
			}
		}

		current, err := s.details.Latest(ctx, subID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("no snapshot stored for subscription %d", subID)
		}
		out.current = current

		if baseline == nil || baseline.ID == current.ID {
			return nil
		}
		if BudgetChanged(baseline.SnapshotData, current.SnapshotData) {
			if err := s.cursors.ResetCursor(ctx, subID, models.LadderUsage); err != nil {
				return err
			}
		}
		if ExpiryChanged(baseline.SnapshotData, current.SnapshotData) {
			if err := s.cursors.ResetCursor(ctx, subID, models.LadderExpiry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func snapshotFromRow(row models.CrawlRow, subID, labID int64) models.SnapshotData {
	return models.SnapshotData{
		SubscriptionID:         subID,
		LabID:                  labID,
		HandoutName:            row.HandoutName,
		HandoutStatus:          row.HandoutStatus,
		HandoutBudget:          row.HandoutBudget,
		HandoutConsumed:        row.HandoutConsumed,
		SubscriptionName:       row.SubscriptionName,
		SubscriptionStatus:     row.SubscriptionStatus,
		SubscriptionExpiryDate: civilDate(row.ExpiryDate),
		SubscriptionUsers:      row.Users,
		TimestampUTC:           row.CrawlTimeUTC.UTC(),
	}
}

func groupBySubscription(sorted []models.CrawlRow) [][]models.CrawlRow {
	var groups [][]models.CrawlRow
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].SubscriptionID != sorted[start].SubscriptionID {
			groups = append(groups, sorted[start:i])
			start = i
		}
	}
	return groups
}
