package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/edunotice/pkg/config"
)

func TestDSNQuotesAwkwardValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "edunotice",
		Password: `p@ss word'\`,
		Name:     "edunotice",
		SSLMode:  "require",
	})
	assert.Equal(t, `host=db.internal port=5432 user=edunotice password='p@ss word\'\\' dbname=edunotice sslmode=require connect_timeout=10`, dsn)
}

func TestDSNSkipsEmptyValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: 5432, Name: "edunotice"})
	assert.Equal(t, "host=localhost port=5432 dbname=edunotice connect_timeout=10", dsn)
}
