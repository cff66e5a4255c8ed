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

// LogRepository persists run markers.
type LogRepository struct {
	db *sqlx.DB
}

// NewLogRepository constructs the repository.
func NewLogRepository(db *sqlx.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Insert appends a marker.
func (r *LogRepository) Insert(ctx context.Context, code int, ts time.Time) (*models.IngestLog, error) {
	const query = `INSERT INTO logs (code, timestamp_utc) VALUES ($1, $2) RETURNING id, code, timestamp_utc`
	var entry models.IngestLog
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &entry, query, code, ts.UTC()); err != nil {
		return nil, fmt.Errorf("insert log: %w", err)
	}
	return &entry, nil
}

// Latest returns the newest marker with the given code, or nil when none was written.
func (r *LogRepository) Latest(ctx context.Context, code int) (*models.IngestLog, error) {
	const query = `SELECT id, code, timestamp_utc FROM logs WHERE code = $1 ORDER BY timestamp_utc DESC, id DESC LIMIT 1`
	var entry models.IngestLog
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &entry, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest log: %w", err)
	}
	return &entry, nil
}
