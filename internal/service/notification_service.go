package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/mailer"
)

type cursorStore interface {
	GetForUpdate(ctx context.Context, id int64) (*models.Subscription, error)
	AdvanceCursor(ctx context.Context, adv models.CursorAdvance) error
}

type noticeRecordStore interface {
	GetByID(ctx context.Context, id int64) (*models.Detail, error)
	MarkNoticeSent(ctx context.Context, id int64, kind models.NoticeKind, sentAt time.Time) error
	LatestNoticeSent(ctx context.Context, subID int64, kind models.NoticeKind) (*models.Detail, error)
}

type noticeRenderer interface {
	New(subject NoticeSubject) (mailer.Message, error)
	Update(subject NoticeSubject) (mailer.Message, error)
	Expiry(subject NoticeSubject, code, daysLeft int) (mailer.Message, error)
	Usage(subject NoticeSubject, code int) (mailer.Message, error)
}

// NotificationService decides whether a notice fires and records it once delivered.
// Every decision runs in its own transaction with the subscription row locked.
type NotificationService struct {
	cursors  cursorStore
	records  noticeRecordStore
	tx       transactor
	renderer noticeRenderer
	sender   mailer.Sender
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationService constructs the state machine.
func NewNotificationService(cursors cursorStore, records noticeRecordStore, tx transactor, renderer noticeRenderer, sender mailer.Sender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		cursors:  cursors,
		records:  records,
		tx:       tx,
		renderer: renderer,
		sender:   sender,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the send timestamp source.
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	if now != nil {
		s.now = now
	}
	return s
}

// NotifyNew sends the registration notice until one has been delivered for the subscription.
// Dispatch also offers updated subscriptions, so a registration that failed to send is
// retried on the next run.
func (s *NotificationService) NotifyNew(ctx context.Context, subject NoticeSubject) (bool, error) {
	return s.notifyOnce(ctx, models.NoticeNew, subject, s.registrationDue, s.renderer.New)
}

// NotifyUpdate sends the change notice when a meaningful field moved since the state the
// owner was last told about. That is the last delivered new or update notice, or the
// previous snapshot when nothing was delivered yet, so a change whose notice failed to
// send is still pending on the next run.
func (s *NotificationService) NotifyUpdate(ctx context.Context, subject NoticeSubject) (bool, error) {
	if subject.Previous == nil {
		return false, nil
	}
	return s.notifyOnce(ctx, models.NoticeUpdate, subject, s.updateDue, s.renderer.Update)
}

type noticeDue func(ctx context.Context, subject NoticeSubject) (NoticeSubject, bool, error)

func (s *NotificationService) registrationDue(ctx context.Context, subject NoticeSubject) (NoticeSubject, bool, error) {
	sent, err := s.records.LatestNoticeSent(ctx, subject.Current.SubscriptionID, models.NoticeNew)
	if err != nil {
		return subject, false, err
	}
	return subject, sent == nil, nil
}

func (s *NotificationService) updateDue(ctx context.Context, subject NoticeSubject) (NoticeSubject, bool, error) {
	reference, err := s.lastNotified(ctx, subject.Current.SubscriptionID)
	if err != nil {
		return subject, false, err
	}
	if reference == nil {
		reference = subject.Previous
	}
	if reference.ID == subject.Current.ID || !DetailsChanged(reference.SnapshotData, subject.Current.SnapshotData) {
		return subject, false, nil
	}
	subject.Previous = reference
	return subject, true, nil
}

// lastNotified returns the newest snapshot the owner received a new or update notice for.
func (s *NotificationService) lastNotified(ctx context.Context, subID int64) (*models.Detail, error) {
	registered, err := s.records.LatestNoticeSent(ctx, subID, models.NoticeNew)
	if err != nil {
		return nil, err
	}
	updated, err := s.records.LatestNoticeSent(ctx, subID, models.NoticeUpdate)
	if err != nil {
		return nil, err
	}
	switch {
	case registered == nil:
		return updated, nil
	case updated == nil:
		return registered, nil
	case updated.TimestampUTC.After(registered.TimestampUTC):
		return updated, nil
	default:
		return registered, nil
	}
}

func (s *NotificationService) notifyOnce(ctx context.Context, kind models.NoticeKind, subject NoticeSubject, due noticeDue, render func(NoticeSubject) (mailer.Message, error)) (bool, error) {
	fired := false
	err := s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.cursors.GetForUpdate(ctx, subject.Current.SubscriptionID); err != nil {
			return err
		}
		record, err := s.records.GetByID(ctx, subject.Current.ID)
		if err != nil {
			return err
		}
		if record == nil {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("detail %d not found", subject.Current.ID))
		}
		if sentAt(kind, record.NotificationRecord) != nil {
			return nil
		}
		target, ok, err := due(ctx, subject)
		if err != nil || !ok {
			return err
		}

		msg, err := render(target)
		if err != nil {
			return err
		}
		if err := s.send(ctx, msg); err != nil {
			return err
		}
		if err := s.records.MarkNoticeSent(ctx, record.ID, kind, s.now()); err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if fired {
		s.logger.Info("notice sent", zap.String("kind", string(kind)), zap.String("subscription", subject.GUID))
	}
	return fired, nil
}

// NotifyLadder evaluates one ladder against the current snapshot. It fires only when the
// subscription is not cancelled and the candidate code is more urgent than the recorded
// cursor. The cursor advances only after a successful send.
func (s *NotificationService) NotifyLadder(ctx context.Context, ladder models.Ladder, subject NoticeSubject, today time.Time) (int, bool, error) {
	current := subject.Current
	if current.Cancelled() {
		return 0, false, nil
	}
	code, ok := Candidate(ladder, current.SnapshotData, today)
	if !ok {
		return 0, false, nil
	}

	fired := false
	err := s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		sub, err := s.cursors.GetForUpdate(ctx, current.SubscriptionID)
		if err != nil {
			return err
		}
		if !MoreUrgent(ladder, code, sub.Cursor(ladder)) {
			return nil
		}

		var msg mailer.Message
		switch ladder {
		case models.LadderUsage:
			msg, err = s.renderer.Usage(subject, code)
		case models.LadderExpiry:
			msg, err = s.renderer.Expiry(subject, code, DaysUntil(current.SubscriptionExpiryDate, today))
		default:
			err = fmt.Errorf("unknown ladder %q", ladder)
		}
		if err != nil {
			return err
		}
		if err := s.send(ctx, msg); err != nil {
			return err
		}
		if err := s.cursors.AdvanceCursor(ctx, models.CursorAdvance{
			Ladder:         ladder,
			SubscriptionID: current.SubscriptionID,
			DetailID:       current.ID,
			Code:           code,
			SentAt:         s.now(),
		}); err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if fired {
		s.logger.Info("ladder notice sent",
			zap.String("ladder", string(ladder)),
			zap.Int("code", code),
			zap.String("subscription", subject.GUID),
		)
	}
	return code, fired, nil
}

func (s *NotificationService) send(ctx context.Context, msg mailer.Message) error {
	if err := s.sender.Send(ctx, msg); err != nil {
		if appErrors.Is(err, appErrors.ErrSend) {
			return err
		}
		return appErrors.Wrap(err, appErrors.ErrSend.Code, appErrors.ErrSend.Status, appErrors.ErrSend.Message)
	}
	return nil
}

func sentAt(kind models.NoticeKind, record models.NotificationRecord) *time.Time {
	switch kind {
	case models.NoticeNew:
		return record.NewNoticeSent
	case models.NoticeUpdate:
		return record.UpdateNoticeSent
	case models.NoticeExpiry:
		return record.ExpiryNoticeSent
	case models.NoticeUsage:
		return record.UsageNoticeSent
	default:
		return nil
	}
}
