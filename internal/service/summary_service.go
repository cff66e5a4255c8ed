package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/mailer"
)

type digestSource interface {
	LatestBefore(ctx context.Context, subID int64, ts time.Time) (*models.Detail, error)
	ListNewSince(ctx context.Context, since time.Time) ([]models.Detail, error)
	ListUpdatedSince(ctx context.Context, since time.Time) ([]models.Detail, error)
	ListNoticesSince(ctx context.Context, since time.Time) ([]models.Detail, error)
}

type labDirectory interface {
	ListRefs(ctx context.Context) ([]models.LabRef, error)
}

type subscriptionDirectory interface {
	FindByIDs(ctx context.Context, ids []int64) ([]models.Subscription, error)
}

type summaryRenderer interface {
	Summary(digest models.Digest, to []string) (mailer.Message, error)
}

type digestExporter interface {
	Export(digest models.Digest, format models.ExportFormat) (*ExportResult, error)
}

// SummaryResult is the outcome of one digest send.
type SummaryResult struct {
	Digest models.Digest `json:"digest"`
	Export *ExportResult `json:"export,omitempty"`
}

// SummaryService builds and sends the operator digest of everything since the previous one.
type SummaryService struct {
	details    digestSource
	labs       labDirectory
	subs       subscriptionDirectory
	logs       watermarkStore
	renderer   summaryRenderer
	sender     mailer.Sender
	exporter   digestExporter
	recipients []string
	logger     *zap.Logger
}

// NewSummaryService constructs the digest service. exporter may be nil.
func NewSummaryService(details digestSource, labs labDirectory, subs subscriptionDirectory, logs watermarkStore, renderer summaryRenderer, sender mailer.Sender, exporter digestExporter, recipients []string, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		details:    details,
		labs:       labs,
		subs:       subs,
		logs:       logs,
		renderer:   renderer,
		sender:     sender,
		exporter:   exporter,
		recipients: recipients,
		logger:     logger,
	}
}

// Build collects the digest for the window starting at the previous summary marker.
func (s *SummaryService) Build(ctx context.Context, now time.Time) (models.Digest, error) {
	digest := models.Digest{From: time.Unix(0, 0).UTC(), To: now.UTC()}
	marker, err := s.logs.Latest(ctx, models.LogCodeSummarySent)
	if err != nil {
		return digest, err
	}
	if marker != nil {
		digest.From = marker.TimestampUTC.UTC()
	}

	newDetails, err := s.details.ListNewSince(ctx, digest.From)
	if err != nil {
		return digest, err
	}
	updatedDetails, err := s.details.ListUpdatedSince(ctx, digest.From)
	if err != nil {
		return digest, err
	}
	noticeDetails, err := s.details.ListNoticesSince(ctx, digest.From)
	if err != nil {
		return digest, err
	}

	labs, guids, err := s.directories(ctx, newDetails, updatedDetails, noticeDetails)
	if err != nil {
		return digest, err
	}
	entry := func(d models.Detail, before *models.Detail) models.DigestEntry {
		lab := labs[d.LabID]
		return models.DigestEntry{GUID: guids[d.SubscriptionID], Course: lab.CourseName, Lab: lab.Name, Current: d, Before: before}
	}

	for _, d := range newDetails {
		digest.New = append(digest.New, entry(d, nil))
	}
	for _, d := range updatedDetails {
		before, err := s.details.LatestBefore(ctx, d.SubscriptionID, d.TimestampUTC)
		if err != nil {
			return digest, err
		}
		if before == nil || !DetailsChanged(before.SnapshotData, d.SnapshotData) {
			continue
		}
		digest.Updated = append(digest.Updated, entry(d, before))
	}
	for _, d := range noticeDetails {
		digest.Notices = append(digest.Notices, sentNotices(d, guids[d.SubscriptionID], digest.From)...)
	}

	sortEntries(digest.New)
	sortEntries(digest.Updated)
	sort.SliceStable(digest.Notices, func(i, j int) bool {
		if digest.Notices[i].SubscriptionName != digest.Notices[j].SubscriptionName {
			return digest.Notices[i].SubscriptionName < digest.Notices[j].SubscriptionName
		}
		return digest.Notices[i].SentAt.Before(digest.Notices[j].SentAt)
	})
	return digest, nil
}

// Send builds the digest, mails it to the operators and writes the summary marker.
// When format is set the digest is also exported; an export failure is logged, not returned.
func (s *SummaryService) Send(ctx context.Context, now time.Time, format models.ExportFormat) (*SummaryResult, error) {
	digest, err := s.Build(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}
	msg, err := s.renderer.Summary(digest, s.recipients)
	if err != nil {
		return nil, err
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return nil, err
	}
	if _, err := s.logs.Insert(ctx, models.LogCodeSummarySent, digest.To); err != nil {
		return nil, fmt.Errorf("write summary marker: %w", err)
	}

	result := &SummaryResult{Digest: digest}
	if format != "" && s.exporter != nil {
		exported, err := s.exporter.Export(digest, format)
		if err != nil {
			s.logger.Warn("digest export failed", zap.String("format", string(format)), zap.Error(err))
		} else {
			result.Export = exported
		}
	}

	s.logger.Info("summary sent",
		zap.Time("from", digest.From),
		zap.Time("to", digest.To),
		zap.Int("new", len(digest.New)),
		zap.Int("updated", len(digest.Updated)),
		zap.Int("notices", len(digest.Notices)),
	)
	return result, nil
}

func (s *SummaryService) directories(ctx context.Context, groups ...[]models.Detail) (map[int64]models.LabRef, map[int64]string, error) {
	refs, err := s.labs.ListRefs(ctx)
	if err != nil {
		return nil, nil, err
	}
	labs := make(map[int64]models.LabRef, len(refs))
	for _, ref := range refs {
		labs[ref.ID] = ref
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, group := range groups {
		for _, d := range group {
			if _, ok := seen[d.SubscriptionID]; !ok {
				seen[d.SubscriptionID] = struct{}{}
				ids = append(ids, d.SubscriptionID)
			}
		}
	}
	guids := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return labs, guids, nil
	}
	subs, err := s.subs.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, sub := range subs {
		guids[sub.ID] = sub.GUID
	}
	return labs, guids, nil
}

// sentNotices expands the notice timestamps of a snapshot that fall inside the window.
func sentNotices(d models.Detail, guid string, since time.Time) []models.SentNotice {
	var out []models.SentNotice
	add := func(kind models.NoticeKind, label string, at *time.Time) {
		if at == nil || at.Before(since) {
			return
		}
		out = append(out, models.SentNotice{
			Kind:             kind,
			Label:            label,
			SubscriptionGUID: guid,
			SubscriptionName: d.SubscriptionName,
			SentAt:           at.UTC(),
		})
	}
	add(models.NoticeNew, models.LabelRegistered, d.NewNoticeSent)
	updateLabel := models.LabelUpdated
	if d.Cancelled() {
		updateLabel = models.LabelCancelled
	}
	add(models.NoticeUpdate, updateLabel, d.UpdateNoticeSent)
	if d.ExpiryCode != nil {
		add(models.NoticeExpiry, fmt.Sprintf("%s %d day(s)", models.LabelExpiresIn, *d.ExpiryCode), d.ExpiryNoticeSent)
	}
	if d.UsageCode != nil {
		add(models.NoticeUsage, models.UsageLabel(*d.UsageCode), d.UsageNoticeSent)
	}
	return out
}

func sortEntries(entries []models.DigestEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Current.SubscriptionName != entries[j].Current.SubscriptionName {
			return entries[i].Current.SubscriptionName < entries[j].Current.SubscriptionName
		}
		return entries[i].Current.TimestampUTC.Before(entries[j].Current.TimestampUTC)
	})
}
