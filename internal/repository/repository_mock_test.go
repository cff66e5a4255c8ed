package repository

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var detailMockColumns = []string{
	"id", "sub_id", "lab_id", "handout_name", "handout_status", "handout_budget", "handout_consumed",
	"subscription_name", "subscription_status", "subscription_expiry_date", "subscription_users",
	"new_flag", "new_notice_sent", "update_flag", "update_notice_sent",
	"expiry_code", "expiry_notice_sent", "usage_code", "usage_notice_sent", "timestamp_utc",
}
