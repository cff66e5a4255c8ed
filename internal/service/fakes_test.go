package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/mailer"
)

// memStore keeps every table in memory and hands out per-table views
// satisfying the repository interfaces used by the services.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	courses []models.Course
	labs    []models.Lab
	subs    []*models.Subscription
	details []*models.Detail
	logs    []models.IngestLog

	failLatest map[int64]error
}

func newMemStore() *memStore {
	return &memStore{failLatest: make(map[int64]error)}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) courseRepo() *memCourses { return &memCourses{m} }
func (m *memStore) labRepo() *memLabs { return &memLabs{m} }
func (m *memStore) subRepo() *memSubscriptions { return &memSubscriptions{m} }
func (m *memStore) detailRepo() *memDetails { return &memDetails{m} }
func (m *memStore) logRepo() *memLogs { return &memLogs{m} }
func (m *memStore) resolver() *EntityResolver {
	return NewEntityResolver(m.courseRepo(), m.labRepo(), m.subRepo(), nil)
}

func (m *memStore) subscription(guid string) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.GUID == guid {
			clone := *s
			return &clone
		}
	}
	return nil
}

type memCourses struct{ m *memStore }

func (r *memCourses) FindByNames(_ context.Context, names []string) ([]models.Course, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Course
	for _, c := range r.m.courses {
		if contains(names, c.Name) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCourses) InsertNames(_ context.Context, names []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, name := range names {
		exists := false
		for _, c := range r.m.courses {
			if c.Name == name {
				exists = true
			}
		}
		if !exists {
			r.m.courses = append(r.m.courses, models.Course{ID: r.m.id(), Name: name})
		}
	}
	return nil
}

type memLabs struct{ m *memStore }

func (r *memLabs) FindByCourseIDs(_ context.Context, ids []int64) ([]models.Lab, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Lab
	for _, l := range r.m.labs {
		for _, id := range ids {
			if l.CourseID == id {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (r *memLabs) InsertMany(_ context.Context, labs []models.Lab) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, lab := range labs {
		exists := false
		for _, l := range r.m.labs {
			if l.CourseID == lab.CourseID && l.Name == lab.Name {
				exists = true
			}
		}
		if !exists {
			lab.ID = r.m.id()
			r.m.labs = append(r.m.labs, lab)
		}
	}
	return nil
}

func (r *memLabs) ListRefs(_ context.Context) ([]models.LabRef, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.LabRef
	for _, l := range r.m.labs {
		for _, c := range r.m.courses {
			if c.ID == l.CourseID {
				out = append(out, models.LabRef{ID: l.ID, Name: l.Name, CourseName: c.Name})
			}
		}
	}
	return out, nil
}

type memSubscriptions struct{ m *memStore }

func (r *memSubscriptions) FindByGUIDs(_ context.Context, guids []string) ([]models.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.m.subs {
		if contains(guids, s.GUID) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSubscriptions) FindByIDs(_ context.Context, ids []int64) ([]models.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.m.subs {
		for _, id := range ids {
			if s.ID == id {
				out = append(out, *s)
			}
		}
	}
	return out, nil
}

func (r *memSubscriptions) InsertGUIDs(_ context.Context, guids []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, guid := range guids {
		exists := false
		for _, s := range r.m.subs {
			if s.GUID == guid {
				exists = true
			}
		}
		if !exists {
			r.m.subs = append(r.m.subs, &models.Subscription{ID: r.m.id(), GUID: guid})
		}
	}
	return nil
}

func (r *memSubscriptions) GetForUpdate(_ context.Context, id int64) (*models.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.subs {
		if s.ID == id {
			clone := *s
			return &clone, nil
		}
	}
	return nil, errors.New("subscription not found")
}

func (r *memSubscriptions) ResetCursor(_ context.Context, id int64, ladder models.Ladder) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.subs {
		if s.ID != id {
			continue
		}
		switch ladder {
		case models.LadderUsage:
			s.UsageCode, s.UsageNoticeSent = nil, nil
		case models.LadderExpiry:
			s.ExpiryCode, s.ExpiryNoticeSent = nil, nil
		}
	}
	return nil
}

func (r *memSubscriptions) AdvanceCursor(_ context.Context, adv models.CursorAdvance) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	code, sent := adv.Code, adv.SentAt
	for _, s := range r.m.subs {
		if s.ID != adv.SubscriptionID {
			continue
		}
		if adv.Ladder == models.LadderUsage {
			s.UsageCode, s.UsageNoticeSent = &code, &sent
		} else {
			s.ExpiryCode, s.ExpiryNoticeSent = &code, &sent
		}
	}
	for _, d := range r.m.details {
		if d.ID != adv.DetailID || d.SubscriptionID != adv.SubscriptionID {
			continue
		}
		if adv.Ladder == models.LadderUsage {
			d.UsageCode, d.UsageNoticeSent = &code, &sent
		} else {
			d.ExpiryCode, d.ExpiryNoticeSent = &code, &sent
		}
	}
	return nil
}

type memDetails struct{ m *memStore }

func (r *memDetails) Latest(_ context.Context, subID int64) (*models.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.failLatest[subID]; err != nil {
		return nil, err
	}
	return r.latestWhere(subID, func(*models.Detail) bool { return true }), nil
}

func (r *memDetails) LatestBefore(_ context.Context, subID int64, ts time.Time) (*models.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.latestWhere(subID, func(d *models.Detail) bool { return d.TimestampUTC.Before(ts) }), nil
}

func (r *memDetails) latestWhere(subID int64, keep func(*models.Detail) bool) *models.Detail {
	var best *models.Detail
	for _, d := range r.m.details {
		if d.SubscriptionID != subID || !keep(d) {
			continue
		}
		if best == nil || d.TimestampUTC.After(best.TimestampUTC) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	clone := *best
	return &clone
}

func (r *memDetails) Insert(_ context.Context, detail *models.Detail) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.details {
		if d.SubscriptionID == detail.SubscriptionID && d.TimestampUTC.Equal(detail.TimestampUTC) {
			return false, nil
		}
	}
	detail.ID = r.m.id()
	stored := *detail
	r.m.details = append(r.m.details, &stored)
	return true, nil
}

func (r *memDetails) GetByID(_ context.Context, id int64) (*models.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.details {
		if d.ID == id {
			clone := *d
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memDetails) MarkNoticeSent(_ context.Context, id int64, kind models.NoticeKind, sentAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.details {
		if d.ID != id {
			continue
		}
		switch kind {
		case models.NoticeNew:
			d.NewNoticeSent = &sentAt
		case models.NoticeUpdate:
			d.UpdateNoticeSent = &sentAt
		default:
			return errors.New("unsupported notice kind")
		}
	}
	return nil
}

func (r *memDetails) LatestNoticeSent(_ context.Context, subID int64, kind models.NoticeKind) (*models.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.latestWhere(subID, func(d *models.Detail) bool {
		if kind == models.NoticeNew {
			return d.NewNoticeSent != nil
		}
		return d.UpdateNoticeSent != nil
	}), nil
}

func (r *memDetails) ListNewSince(_ context.Context, since time.Time) ([]models.Detail, error) {
	return r.list(func(d *models.Detail) bool { return d.NewFlag && !d.TimestampUTC.Before(since) }), nil
}

func (r *memDetails) ListUpdatedSince(_ context.Context, since time.Time) ([]models.Detail, error) {
	return r.list(func(d *models.Detail) bool { return d.UpdateFlag && !d.TimestampUTC.Before(since) }), nil
}

func (r *memDetails) ListNoticesSince(_ context.Context, since time.Time) ([]models.Detail, error) {
	after := func(t *time.Time) bool { return t != nil && !t.Before(since) }
	return r.list(func(d *models.Detail) bool {
		return after(d.NewNoticeSent) || after(d.UpdateNoticeSent) || after(d.ExpiryNoticeSent) || after(d.UsageNoticeSent)
	}), nil
}

func (r *memDetails) list(keep func(*models.Detail) bool) []models.Detail {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Detail
	for _, d := range r.m.details {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampUTC.Before(out[j].TimestampUTC) })
	return out
}

type memLogs struct{ m *memStore }

func (r *memLogs) Insert(_ context.Context, code int, ts time.Time) (*models.IngestLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	entry := models.IngestLog{ID: r.m.id(), Code: code, TimestampUTC: ts}
	r.m.logs = append(r.m.logs, entry)
	return &entry, nil
}

func (r *memLogs) Latest(_ context.Context, code int) (*models.IngestLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var best *models.IngestLog
	for i := range r.m.logs {
		entry := r.m.logs[i]
		if entry.Code == code && (best == nil || !entry.TimestampUTC.Before(best.TimestampUTC)) {
			best = &entry
		}
	}
	return best, nil
}

type passThroughTx struct{}

func (passThroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingSender captures every message and fails for recipients listed in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failFor: make(map[string]error)}
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, to := range msg.To {
		if err := s.failFor[to]; err != nil {
			return err
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, msg := range s.sent {
		out = append(out, msg.Category)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func crawlRow(guid, name string, budget, consumed float64, expiry, crawled time.Time) models.CrawlRow {
	return models.CrawlRow{
		CourseName:         "Data Science",
		LabName:            "Lab 1",
		HandoutName:        "Handout " + name,
		HandoutBudget:      budget,
		HandoutConsumed:    consumed,
		HandoutStatus:      "Accepted",
		SubscriptionID:     guid,
		SubscriptionName:   name,
		SubscriptionStatus: "Enabled",
		ExpiryDate:         expiry,
		Users:              guid + "@example.com",
		CrawlTimeUTC:       crawled,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
