package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sevigo/testrunner/internal/core"
)

type statusRow struct {
	ID            int64  `db:"id"`
	Owner         string `db:"owner"`
	Repo          string `db:"repo"`
	SHA           string `db:"sha"`
	Context       string `db:"context"`
	State         string `db:"state"`
	TargetURL     string `db:"target_url"`
	Description   string `db:"description"`
	Dirty         bool   `db:"dirty"`
	Revision      int64  `db:"revision"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt int64  `db:"next_attempt_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r *statusRow) toCore() *core.StatusEntry {
	return &core.StatusEntry{
		ID:            r.ID,
		Key:           core.StatusKey{Owner: r.Owner, Repo: r.Repo, SHA: r.SHA, Context: r.Context},
		State:         r.State,
		TargetURL:     r.TargetURL,
		Description:   r.Description,
		Dirty:         r.Dirty,
		Revision:      r.Revision,
		Attempts:      r.Attempts,
		NextAttemptAt: fromMillis(r.NextAttemptAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
}

const statusColumns = `id, owner, repo, sha, context, state, target_url, description, dirty, revision, attempts, next_attempt_at, updated_at`

// GetStatus loads the mirror entry for key.
func (s *Store) GetStatus(ctx context.Context, key core.StatusKey) (*core.StatusEntry, error) {
	var row statusRow
	query := "SELECT " + statusColumns + " FROM status_mirror WHERE owner = ? AND repo = ? AND sha = ? AND context = ?"
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), key.Owner, key.Repo, key.SHA, key.Context)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status %s: %w", key, err)
	}
	return row.toCore(), nil
}

// CreateStatus inserts a dirty entry unless one already exists for its key.
func (s *Store) CreateStatus(ctx context.Context, entry *core.StatusEntry) (bool, error) {
	now := time.Now().UTC()
	query := `INSERT INTO status_mirror (owner, repo, sha, context, state, target_url, description, dirty, revision, attempts, next_attempt_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 0, ?)
		ON CONFLICT (owner, repo, sha, context) DO NOTHING
		RETURNING id`
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(query),
		entry.Key.Owner, entry.Key.Repo, entry.Key.SHA, entry.Key.Context,
		entry.State, entry.TargetURL, entry.Description, true, now.UnixMilli(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create status %s: %w", entry.Key, err)
	}

	entry.ID = id
	entry.Dirty = true
	entry.Revision = 1
	entry.Attempts = 0
	entry.NextAttemptAt = time.Time{}
	entry.UpdatedAt = now
	return true, nil
}

// UpdateStatus applies update, marks the entry dirty and bumps its revision.
func (s *Store) UpdateStatus(ctx context.Context, key core.StatusKey, update core.StatusUpdate) error {
	sets := []string{"dirty = ?", "revision = revision + 1", "attempts = 0", "next_attempt_at = 0", "updated_at = ?"}
	args := []any{true, time.Now().UTC().UnixMilli()}
	if update.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, *update.State)
	}
	if update.TargetURL != nil {
		sets = append(sets, "target_url = ?")
		args = append(args, *update.TargetURL)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	args = append(args, key.Owner, key.Repo, key.SHA, key.Context)

	query := "UPDATE status_mirror SET " + strings.Join(sets, ", ") +
		" WHERE owner = ? AND repo = ? AND sha = ? AND context = ?"
	affected, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status %s: %w", key, err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListDirtyStatuses returns all entries not yet confirmed upstream, oldest first.
func (s *Store) ListDirtyStatuses(ctx context.Context) ([]*core.StatusEntry, error) {
	var rows []statusRow
	query := "SELECT " + statusColumns + " FROM status_mirror WHERE dirty = ? ORDER BY id ASC"
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), true); err != nil {
		return nil, fmt.Errorf("failed to list dirty statuses: %w", err)
	}
	entries := make([]*core.StatusEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toCore())
	}
	return entries, nil
}

// MarkStatusClean clears the dirty flag if the entry is still at revision.
func (s *Store) MarkStatusClean(ctx context.Context, id, revision int64) error {
	affected, err := s.exec(ctx,
		`UPDATE status_mirror SET dirty = ?, attempts = 0, next_attempt_at = 0 WHERE id = ? AND revision = ?`,
		false, id, revision,
	)
	if err != nil {
		return fmt.Errorf("failed to mark status %d clean: %w", id, err)
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, "status_mirror", id)
	}
	return nil
}

// RecordStatusAttempt stores the retry bookkeeping for revision.
func (s *Store) RecordStatusAttempt(ctx context.Context, id, revision int64, attempts int, nextAttemptAt time.Time) error {
	affected, err := s.exec(ctx,
		`UPDATE status_mirror SET attempts = ?, next_attempt_at = ? WHERE id = ? AND revision = ?`,
		attempts, toMillis(nextAttemptAt), id, revision,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt for status %d: %w", id, err)
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, "status_mirror", id)
	}
	return nil
}
