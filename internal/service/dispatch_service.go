package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
)

type noticeDispatcher interface {
	NotifyNew(ctx context.Context, subject NoticeSubject) (bool, error)
	NotifyUpdate(ctx context.Context, subject NoticeSubject) (bool, error)
	NotifyLadder(ctx context.Context, ladder models.Ladder, subject NoticeSubject, today time.Time) (int, bool, error)
}

// DispatchService fans an ingestion result out to the individual notices.
type DispatchService struct {
	notices noticeDispatcher
	labs    labDirectory
	subs    subscriptionDirectory
	metrics *MetricsService
	logger  *zap.Logger
}

// NewDispatchService constructs the driver.
func NewDispatchService(notices noticeDispatcher, metrics *MetricsService, logger *zap.Logger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{notices: notices, metrics: metrics, logger: logger}
}

// WithDirectories sets the stores used to name labs and subscriptions missing from a
// batch's resolved dictionaries, such as a batch made only of duplicate snapshots.
func (s *DispatchService) WithDirectories(labs labDirectory, subs subscriptionDirectory) *DispatchService {
	s.labs = labs
	s.subs = subs
	return s
}

// Dispatch sends the registration notice for every new subscription, and the update,
// usage and expiry notices for every updated one. Updated subscriptions are offered the
// registration notice too, which only fires when it never reached the owner. A failed
// notice does not stop the others; failures are combined per category and returned with
// the counts.
func (s *DispatchService) Dispatch(ctx context.Context, result *models.IngestResult, today time.Time) (models.NoticeCounts, error) {
	var counts models.NoticeCounts
	if result == nil {
		return counts, nil
	}
	var newErrs, updateErrs, expiryErrs, usageErrs error
	names := &subjectNames{result: result}

	notifyNew := func(subject NoticeSubject) {
		fired, err := s.notices.NotifyNew(ctx, subject)
		s.observe(models.NoticeNew, fired, err)
		if err != nil {
			newErrs = multierr.Append(newErrs, s.failure(models.NoticeNew, subject, err))
		} else if fired {
			counts.New++
		}
	}

	for _, detail := range result.New {
		notifyNew(s.subject(ctx, names, detail, nil))
	}

	for _, pair := range result.Updated {
		previous := pair.Previous
		subject := s.subject(ctx, names, pair.Current, &previous)

		notifyNew(subject)

		fired, err := s.notices.NotifyUpdate(ctx, subject)
		s.observe(models.NoticeUpdate, fired, err)
		if err != nil {
			updateErrs = multierr.Append(updateErrs, s.failure(models.NoticeUpdate, subject, err))
		} else if fired {
			counts.Update++
		}

		_, fired, err = s.notices.NotifyLadder(ctx, models.LadderUsage, subject, today)
		s.observe(models.NoticeUsage, fired, err)
		if err != nil {
			usageErrs = multierr.Append(usageErrs, s.failure(models.NoticeUsage, subject, err))
		} else if fired {
			counts.Usage++
		}

		_, fired, err = s.notices.NotifyLadder(ctx, models.LadderExpiry, subject, today)
		s.observe(models.NoticeExpiry, fired, err)
		if err != nil {
			expiryErrs = multierr.Append(expiryErrs, s.failure(models.NoticeExpiry, subject, err))
		} else if fired {
			counts.Expiry++
		}
	}

	var combined error
	for _, category := range []struct {
		name string
		err  error
	}{
		{"new", newErrs},
		{"update", updateErrs},
		{"expiry", expiryErrs},
		{"usage", usageErrs},
	} {
		if category.err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s notices: %w", category.name, category.err))
		}
	}

	s.logger.Info("notices dispatched",
		zap.Int("new", counts.New),
		zap.Int("update", counts.Update),
		zap.Int("expiry", counts.Expiry),
		zap.Int("usage", counts.Usage),
		zap.Bool("errors", combined != nil),
	)
	return counts, combined
}

// subjectNames resolves lab and subscription names for one dispatch, from the batch first
// and from the directories for anything the batch did not resolve.
type subjectNames struct {
	result *models.IngestResult
	refs   map[int64]models.LabRef
}

func (s *DispatchService) subject(ctx context.Context, names *subjectNames, current models.Detail, previous *models.Detail) NoticeSubject {
	subject := NoticeSubject{Current: current, Previous: previous}

	lab, ok := names.result.LabByID(current.LabID)
	if !ok {
		lab, ok = s.lookupLab(ctx, names, current.LabID)
	}
	subject.Course, subject.Lab = lab.Course, lab.Lab

	guid, found := names.result.GUIDByID(current.SubscriptionID)
	if !found {
		guid, found = s.lookupGUID(ctx, current.SubscriptionID)
	}
	subject.GUID = guid

	if !ok || !found {
		s.logger.Warn("notice subject not fully resolved",
			zap.Int64("subscription_id", current.SubscriptionID),
			zap.Int64("lab_id", current.LabID),
			zap.Bool("lab_found", ok),
			zap.Bool("subscription_found", found),
		)
	}
	return subject
}

func (s *DispatchService) lookupLab(ctx context.Context, names *subjectNames, labID int64) (models.LabKey, bool) {
	if s.labs == nil {
		return models.LabKey{}, false
	}
	if names.refs == nil {
		refs, err := s.labs.ListRefs(ctx)
		if err != nil {
			s.logger.Warn("list labs failed", zap.Error(err))
			return models.LabKey{}, false
		}
		names.refs = make(map[int64]models.LabRef, len(refs))
		for _, ref := range refs {
			names.refs[ref.ID] = ref
		}
	}
	ref, ok := names.refs[labID]
	if !ok {
		return models.LabKey{}, false
	}
	return models.LabKey{Course: ref.CourseName, Lab: ref.Name}, true
}

func (s *DispatchService) lookupGUID(ctx context.Context, subID int64) (string, bool) {
	if s.subs == nil {
		return "", false
	}
	subs, err := s.subs.FindByIDs(ctx, []int64{subID})
	if err != nil {
		s.logger.Warn("find subscription failed", zap.Int64("subscription_id", subID), zap.Error(err))
		return "", false
	}
	for _, sub := range subs {
		if sub.ID == subID {
			return sub.GUID, true
		}
	}
	return "", false
}

func (s *DispatchService) failure(kind models.NoticeKind, subject NoticeSubject, err error) error {
	s.logger.Warn("notice failed",
		zap.String("kind", string(kind)),
		zap.String("subscription", subject.GUID),
		zap.Error(err),
	)
	return fmt.Errorf("subscription %s: %w", subject.GUID, err)
}

func (s *DispatchService) observe(kind models.NoticeKind, fired bool, err error) {
	switch {
	case err != nil:
		s.metrics.ObserveNotice(string(kind), "failed")
	case fired:
		s.metrics.ObserveNotice(string(kind), "sent")
	default:
		s.metrics.ObserveNotice(string(kind), "skipped")
	}
}
