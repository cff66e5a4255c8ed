package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/database"
)

const detailColumns = `id, sub_id, lab_id, handout_name, handout_status, handout_budget, handout_consumed,
subscription_name, subscription_status, subscription_expiry_date, subscription_users,
new_flag, new_notice_sent, update_flag, update_notice_sent,
expiry_code, expiry_notice_sent, usage_code, usage_notice_sent, timestamp_utc`

// DetailRepository is the append-only snapshot store.
type DetailRepository struct {
	db *sqlx.DB
}

// NewDetailRepository constructs the repository.
func NewDetailRepository(db *sqlx.DB) *DetailRepository {
	return &DetailRepository{db: db}
}

// Latest returns the most recent snapshot of a subscription, or nil when it has none.
func (r *DetailRepository) Latest(ctx context.Context, subID int64) (*models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details WHERE sub_id = $1 ORDER BY timestamp_utc DESC LIMIT 1`
	return r.getOne(ctx, "latest detail", query, subID)
}

// LatestBefore returns the most recent snapshot strictly older than ts, or nil.
func (r *DetailRepository) LatestBefore(ctx context.Context, subID int64, ts time.Time) (*models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details WHERE sub_id = $1 AND timestamp_utc < $2 ORDER BY timestamp_utc DESC LIMIT 1`
	return r.getOne(ctx, "latest detail before", query, subID, ts)
}

// GetByID loads one snapshot.
func (r *DetailRepository) GetByID(ctx context.Context, id int64) (*models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details WHERE id = $1`
	return r.getOne(ctx, "get detail", query, id)
}

// LatestNoticeSent returns the most recent snapshot of a subscription carrying a delivered
// new or update notice, or nil when none was delivered.
func (r *DetailRepository) LatestNoticeSent(ctx context.Context, subID int64, kind models.NoticeKind) (*models.Detail, error) {
	var column string
	switch kind {
	case models.NoticeNew:
		column = "new_notice_sent"
	case models.NoticeUpdate:
		column = "update_notice_sent"
	default:
		return nil, fmt.Errorf("latest notice sent: unsupported kind %q", kind)
	}
	query := `SELECT ` + detailColumns + ` FROM details WHERE sub_id = $1 AND ` + column + ` IS NOT NULL ORDER BY timestamp_utc DESC, id DESC LIMIT 1`
	return r.getOne(ctx, "latest "+string(kind)+" notice", query, subID)
}

func (r *DetailRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*models.Detail, error) {
	var detail models.Detail
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &detail, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &detail, nil
}

// Insert appends a snapshot and sets its ID. It returns false without error when a snapshot
// with the same (sub_id, timestamp_utc) already exists.
func (r *DetailRepository) Insert(ctx context.Context, detail *models.Detail) (bool, error) {
	const query = `INSERT INTO details (
sub_id, lab_id, handout_name, handout_status, handout_budget, handout_consumed,
subscription_name, subscription_status, subscription_expiry_date, subscription_users,
new_flag, update_flag, timestamp_utc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (sub_id, timestamp_utc) DO NOTHING
RETURNING id`

	var id int64
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		detail.SubscriptionID,
		detail.LabID,
		detail.HandoutName,
		detail.HandoutStatus,
		detail.HandoutBudget,
		detail.HandoutConsumed,
		detail.SubscriptionName,
		detail.SubscriptionStatus,
		detail.SubscriptionExpiryDate,
		detail.SubscriptionUsers,
		detail.NewFlag,
		detail.UpdateFlag,
		detail.TimestampUTC,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert detail: %w", err)
	}
	detail.ID = id
	return true, nil
}

// MarkNoticeSent stamps the new or update notice timestamp on a snapshot.
func (r *DetailRepository) MarkNoticeSent(ctx context.Context, id int64, kind models.NoticeKind, sentAt time.Time) error {
	var query string
	switch kind {
	case models.NoticeNew:
		query = `UPDATE details SET new_notice_sent = $1 WHERE id = $2`
	case models.NoticeUpdate:
		query = `UPDATE details SET update_notice_sent = $1 WHERE id = $2`
	default:
		return fmt.Errorf("mark notice sent: unsupported kind %q", kind)
	}
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, sentAt, id); err != nil {
		return fmt.Errorf("mark %s notice sent: %w", kind, err)
	}
	return nil
}

// ListNewSince returns snapshots flagged as new and crawled at or after since.
func (r *DetailRepository) ListNewSince(ctx context.Context, since time.Time) ([]models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details WHERE new_flag = TRUE AND timestamp_utc >= $1 ORDER BY timestamp_utc ASC, id ASC`
	return r.list(ctx, "list new details", query, since)
}

// ListUpdatedSince returns snapshots flagged as updated and crawled at or after since.
func (r *DetailRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details WHERE update_flag = TRUE AND timestamp_utc >= $1 ORDER BY timestamp_utc ASC, id ASC`
	return r.list(ctx, "list updated details", query, since)
}

// ListNoticesSince returns snapshots carrying any notice sent at or after since.
func (r *DetailRepository) ListNoticesSince(ctx context.Context, since time.Time) ([]models.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM details
WHERE new_notice_sent >= $1 OR update_notice_sent >= $1 OR expiry_notice_sent >= $1 OR usage_notice_sent >= $1
ORDER BY timestamp_utc ASC, id ASC`
	return r.list(ctx, "list notices", query, since)
}

func (r *DetailRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]models.Detail, error) {
	var details []models.Detail
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &details, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return details, nil
}
