package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/db"
)

// Store implements the JobStore, StatusStore and DeliveryStore contracts on
// top of a sqlx connection. Queries are written with '?' placeholders and
// rebound for the active dialect.
type Store struct {
	db *sqlx.DB
}

var (
	_ core.JobStore      = (*Store)(nil)
	_ core.StatusStore   = (*Store)(nil)
	_ core.DeliveryStore = (*Store)(nil)
)

// NewStore creates a new Store
func NewStore(database *db.DB) *Store {
	return &Store{db: database.DB}
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// missingOrConflict classifies a conditional update that touched no rows.
func (s *Store) missingOrConflict(ctx context.Context, table string, id int64) error {
	var exists int
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return core.ErrConflict
}

// Timestamps are stored as unix milliseconds; zero means unset.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
