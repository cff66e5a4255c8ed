package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/pkg/database"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

const subscriptionColumns = `id, guid, expiry_code, expiry_notice_sent, usage_code, usage_notice_sent, time_created`

// SubscriptionRepository persists subscriptions and owns the notification cursor.
type SubscriptionRepository struct {
	db *sqlx.DB
	tx *database.TransactionManager
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, tx: database.NewTransactionManager(db)}
}

// FindByGUIDs returns the subscriptions with the given external ids.
func (r *SubscriptionRepository) FindByGUIDs(ctx context.Context, guids []string) ([]models.Subscription, error) {
	if len(guids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscription WHERE guid = ANY($1)`
	var subs []models.Subscription
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &subs, query, pq.Array(guids)); err != nil {
		return nil, fmt.Errorf("find subscriptions by guid: %w", err)
	}
	return subs, nil
}

// FindByIDs returns the subscriptions with the given surrogate ids.
func (r *SubscriptionRepository) FindByIDs(ctx context.Context, ids []int64) ([]models.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscription WHERE id = ANY($1)`
	var subs []models.Subscription
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &subs, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find subscriptions by id: %w", err)
	}
	return subs, nil
}

// InsertGUIDs creates a subscription for each guid, ignoring existing ones.
func (r *SubscriptionRepository) InsertGUIDs(ctx context.Context, guids []string) error {
	if len(guids) == 0 {
		return nil
	}
	const query = `INSERT INTO subscription (guid) SELECT UNNEST($1::text[]) ON CONFLICT (guid) DO NOTHING`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, pq.Array(guids)); err != nil {
		return fmt.Errorf("insert subscriptions: %w", err)
	}
	return nil
}

// GetForUpdate loads a subscription and locks its row until the surrounding transaction ends.
func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, id int64) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscription WHERE id = $1 FOR UPDATE`
	var sub models.Subscription
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subscription %d not found", id))
		}
		return nil, fmt.Errorf("get subscription for update: %w", err)
	}
	return &sub, nil
}

// ResetCursor clears the recorded code of a ladder so its countdown restarts.
func (r *SubscriptionRepository) ResetCursor(ctx context.Context, id int64, ladder models.Ladder) error {
	var query string
	switch ladder {
	case models.LadderUsage:
		query = `UPDATE subscription SET usage_code = NULL, usage_notice_sent = NULL WHERE id = $1`
	case models.LadderExpiry:
		query = `UPDATE subscription SET expiry_code = NULL, expiry_notice_sent = NULL WHERE id = $1`
	default:
		return fmt.Errorf("reset cursor: unknown ladder %q", ladder)
	}
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("reset %s cursor: %w", ladder, err)
	}
	return nil
}

// AdvanceCursor records a delivered ladder notice on the subscription and on the triggering
// detail in one transaction. It is the only writer of either copy of the cursor.
func (r *SubscriptionRepository) AdvanceCursor(ctx context.Context, adv models.CursorAdvance) error {
	var subQuery, detailQuery string
	switch adv.Ladder {
	case models.LadderUsage:
		subQuery = `UPDATE subscription SET usage_code = $1, usage_notice_sent = $2 WHERE id = $3`
		detailQuery = `UPDATE details SET usage_code = $1, usage_notice_sent = $2 WHERE id = $3 AND sub_id = $4`
	case models.LadderExpiry:
		subQuery = `UPDATE subscription SET expiry_code = $1, expiry_notice_sent = $2 WHERE id = $3`
		detailQuery = `UPDATE details SET expiry_code = $1, expiry_notice_sent = $2 WHERE id = $3 AND sub_id = $4`
	default:
		return fmt.Errorf("advance cursor: unknown ladder %q", adv.Ladder)
	}

	return r.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		conn := database.Conn(ctx, r.db)
		res, err := conn.ExecContext(ctx, subQuery, adv.Code, adv.SentAt, adv.SubscriptionID)
		if err != nil {
			return fmt.Errorf("advance %s cursor: %w", adv.Ladder, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subscription %d not found", adv.SubscriptionID))
		}
		res, err = conn.ExecContext(ctx, detailQuery, adv.Code, adv.SentAt, adv.DetailID, adv.SubscriptionID)
		if err != nil {
			return fmt.Errorf("record %s notice on detail: %w", adv.Ladder, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("detail %d not found for subscription %d", adv.DetailID, adv.SubscriptionID))
		}
		return nil
	})
}
