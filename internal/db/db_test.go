package db

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/testrunner/internal/config"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name()))
	conn, err := sqlx.Connect(DriverSQLite, dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn, DriverSQLite)
}

func TestRunMigrations_SQLite(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, db.RunMigrations())
	// A second run finds nothing to do.
	require.NoError(t, db.RunMigrations())

	version, dirty, err := db.MigrationVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(3), version)

	for _, table := range []string{"commit_jobs", "status_mirror", "webhook_deliveries"} {
		var count int
		err := db.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		require.NoError(t, err)
		assert.Equal(t, 1, count, table)
	}
}

func TestMigrationVersion_Empty(t *testing.T) {
	db := openMemory(t)

	version, dirty, err := db.MigrationVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Zero(t, version)
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, cleanup, err := NewDatabase(&config.DBConfig{Driver: "mongodb"})
	require.Error(t, err)
	cleanup()
}

func TestDSN(t *testing.T) {
	cfg := &config.DBConfig{Host: "db", Port: 5432, Username: "u", Password: "p", Database: "runner"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=runner sslmode=disable", PostgresDSN(cfg))
	assert.Contains(t, SQLiteDSN("/var/lib/runner.db"), "file:/var/lib/runner.db?")
	assert.Contains(t, SQLiteDSN("x.db"), "journal_mode(WAL)")
}
