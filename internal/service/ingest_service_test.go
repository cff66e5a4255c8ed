package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

var (
	crawlA    = time.Date(2020, time.November, 9, 8, 0, 0, 0, time.UTC)
	crawlB    = time.Date(2020, time.November, 10, 8, 0, 0, 0, time.UTC)
	expiryDec = date(2020, time.December, 10)
)

func newIngestServiceForTest(store *memStore) *IngestService {
	clock := time.Date(2020, time.November, 10, 9, 0, 0, 0, time.UTC)
	return NewIngestService(
		store.resolver(),
		store.detailRepo(),
		store.subRepo(),
		store.logRepo(),
		passThroughTx{},
		NewCrawlParser(nil),
		nil,
		nil,
	).WithClock(func() time.Time { return clock })
}

func TestIngestServiceNewThenUpdated(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)

	batchA := []models.CrawlRow{
		crawlRow("sub-1", "ML", 100, 10, expiryDec, crawlA),
		crawlRow("sub-2", "Vision", 100, 10, expiryDec, crawlA),
	}
	result, err := svc.IngestBatch(ctx, models.CrawlBatch{Columns: models.RequiredColumns, Rows: batchA})
	require.NoError(t, err)
	assert.Len(t, result.New, 2)
	assert.Empty(t, result.Updated)
	assert.Equal(t, 2, result.Inserted)
	for _, d := range result.New {
		assert.True(t, d.NewFlag)
		assert.False(t, d.UpdateFlag)
	}
	require.NotNil(t, result.Watermark)

	renamed := crawlRow("sub-1", "ML renamed", 100, 20, expiryDec, crawlB)
	same := crawlRow("sub-2", "Vision", 100, 30, expiryDec, crawlB)
	fresh := crawlRow("sub-3", "NLP", 100, 0, expiryDec, crawlB)
	result, err = svc.Ingest(ctx, []models.CrawlRow{fresh, same, renamed})
	require.NoError(t, err)

	require.Len(t, result.New, 1)
	assert.Equal(t, "NLP", result.New[0].SubscriptionName)
	require.Len(t, result.Updated, 2)

	changed := map[string]bool{}
	for _, pair := range result.Updated {
		guid, ok := result.GUIDByID(pair.Current.SubscriptionID)
		require.True(t, ok)
		changed[guid] = DetailsChanged(pair.Previous.SnapshotData, pair.Current.SnapshotData)
		assert.Equal(t, changed[guid], pair.Current.UpdateFlag)
		assert.False(t, pair.Current.NewFlag)
		assert.Equal(t, crawlA, pair.Previous.TimestampUTC)
		assert.Equal(t, crawlB, pair.Current.TimestampUTC)
	}
	assert.Equal(t, map[string]bool{"sub-1": true, "sub-2": false}, changed)

	latest, err := svc.LatestWatermark(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Len(t, store.logs, 2)
}

func TestIngestServiceSkipsDuplicateSnapshots(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)
	rows := []models.CrawlRow{crawlRow("sub-1", "ML", 100, 10, expiryDec, crawlA)}

	_, err := svc.Ingest(ctx, rows)
	require.NoError(t, err)

	result, err := svc.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.New)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, result.Updated[0].Previous.ID, result.Updated[0].Current.ID)
	assert.Len(t, store.details, 1)
}

func TestIngestServiceReplaysRowsInTimestampOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)

	later := crawlRow("sub-1", "ML", 200, 10, expiryDec, crawlB)
	earlier := crawlRow("sub-1", "ML", 100, 10, expiryDec, crawlA)
	result, err := svc.Ingest(ctx, []models.CrawlRow{later, earlier})
	require.NoError(t, err)

	require.Len(t, result.New, 1)
	assert.Equal(t, crawlB, result.New[0].TimestampUTC)
	assert.Equal(t, 2, result.Inserted)

	require.Len(t, store.details, 2)
	first, second := store.details[0], store.details[1]
	assert.Equal(t, crawlA, first.TimestampUTC)
	assert.True(t, first.NewFlag)
	assert.Equal(t, crawlB, second.TimestampUTC)
	assert.False(t, second.NewFlag)
	assert.True(t, second.UpdateFlag)
}

func TestIngestServiceComparesLateRowsWithTheirPredecessor(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)

	_, err := svc.Ingest(ctx, []models.CrawlRow{
		crawlRow("sub-1", "ML", 100, 10, expiryDec, crawlA),
		crawlRow("sub-1", "ML", 300, 10, expiryDec, crawlB),
	})
	require.NoError(t, err)

	late := crawlRow("sub-1", "ML", 100, 15, expiryDec, crawlA.Add(time.Hour))
	result, err := svc.Ingest(ctx, []models.CrawlRow{late})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	stored := store.details[len(store.details)-1]
	assert.Equal(t, late.CrawlTimeUTC, stored.TimestampUTC)
	assert.False(t, stored.UpdateFlag)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, crawlB, result.Updated[0].Current.TimestampUTC)
}

func TestIngestServiceLateRowOlderThanHistoryIsNotNew(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)

	_, err := svc.Ingest(ctx, []models.CrawlRow{crawlRow("sub-1", "ML", 100, 10, expiryDec, crawlB)})
	require.NoError(t, err)

	oldest := crawlRow("sub-1", "ML", 100, 5, expiryDec, crawlA)
	result, err := svc.Ingest(ctx, []models.CrawlRow{oldest})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Empty(t, result.New)

	require.Len(t, store.details, 2)
	stored := store.details[1]
	assert.Equal(t, crawlA, stored.TimestampUTC)
	assert.False(t, stored.NewFlag)
	assert.False(t, stored.UpdateFlag)

	registered, err := store.detailRepo().ListNewSince(ctx, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Equal(t, crawlB, registered[0].TimestampUTC)
}

func TestIngestServiceResetsCursorsOnBudgetAndExpiryChange(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)

	_, err := svc.Ingest(ctx, []models.CrawlRow{crawlRow("sub-1", "ML", 100, 60, expiryDec, crawlA)})
	require.NoError(t, err)
	sub := store.subscription("sub-1")
	for _, ladder := range []models.Ladder{models.LadderUsage, models.LadderExpiry} {
		require.NoError(t, store.subRepo().AdvanceCursor(ctx, models.CursorAdvance{Ladder: ladder, SubscriptionID: sub.ID, Code: 50, SentAt: crawlA}))
	}

	_, err = svc.Ingest(ctx, []models.CrawlRow{crawlRow("sub-1", "ML", 200, 120, expiryDec, crawlB)})
	require.NoError(t, err)
	sub = store.subscription("sub-1")
	assert.Nil(t, sub.UsageCode)
	assert.Nil(t, sub.UsageNoticeSent)
	require.NotNil(t, sub.ExpiryCode)

	_, err = svc.Ingest(ctx, []models.CrawlRow{crawlRow("sub-1", "ML", 200, 120, date(2021, time.March, 1), crawlB.Add(time.Hour))})
	require.NoError(t, err)
	assert.Nil(t, store.subscription("sub-1").ExpiryCode)
}

func TestIngestServiceIsolatesSubscriptionFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newIngestServiceForTest(store)
	require.NoError(t, store.subRepo().InsertGUIDs(ctx, []string{"sub-broken"}))
	store.failLatest[store.subscription("sub-broken").ID] = errors.New("connection reset")

	result, err := svc.Ingest(ctx, []models.CrawlRow{
		crawlRow("sub-broken", "Broken", 100, 10, expiryDec, crawlA),
		crawlRow("sub-ok", "Fine", 100, 10, expiryDec, crawlA),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-broken")
	require.NotNil(t, result)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "sub-broken", result.Failures[0].GUID)
	require.Len(t, result.New, 1)
	assert.Equal(t, "Fine", result.New[0].SubscriptionName)
	assert.Nil(t, result.Watermark)
	assert.Empty(t, store.logs)
}

func TestIngestServiceRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := newIngestServiceForTest(newMemStore())

	_, err := svc.Ingest(ctx, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrInput))

	_, err = svc.IngestBatch(ctx, models.CrawlBatch{Columns: []string{models.ColumnCourseName}})
	assert.True(t, appErrors.Is(err, appErrors.ErrSchema))

	row := crawlRow("", "ML", 100, 10, expiryDec, crawlA)
	_, err = svc.Ingest(ctx, []models.CrawlRow{row})
	assert.True(t, appErrors.Is(err, appErrors.ErrInput))
}
