package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/testrunner/internal/core"
)

type runList []core.Run

// Scan decodes the JSON run list. Postgres returns jsonb as []byte, sqlite
// returns TEXT as string.
func (r *runList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = runList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported runs column type %T", src)
	}
	var runs []core.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("failed to decode runs: %w", err)
	}
	if runs == nil {
		runs = []core.Run{}
	}
	*r = runs
	return nil
}

// encodeRuns returns the run list as a JSON string. A string rather than
// []byte is passed so lib/pq does not send it as bytea.
func encodeRuns(runs []core.Run) (string, error) {
	if runs == nil {
		runs = []core.Run{}
	}
	data, err := json.Marshal(runs)
	if err != nil {
		return "", fmt.Errorf("failed to encode runs: %w", err)
	}
	return string(data), nil
}

type commitJobRow struct {
	ID         int64   `db:"id"`
	Version    int64   `db:"version"`
	DeliveryID string  `db:"delivery_id"`
	Repo       string  `db:"repo"`
	RepoFull   string  `db:"repo_full"`
	CloneURL   string  `db:"clone_url"`
	SHA        string  `db:"sha"`
	FetchRef   string  `db:"fetch_ref"`
	Author     string  `db:"author"`
	Sender     string  `db:"sender"`
	CreatedAt  int64   `db:"created_at"`
	Runs       runList `db:"runs"`
}

func (r *commitJobRow) toCore() *core.CommitJob {
	return &core.CommitJob{
		ID:         r.ID,
		Version:    r.Version,
		DeliveryID: r.DeliveryID,
		Repo:       r.Repo,
		RepoFull:   r.RepoFull,
		CloneURL:   r.CloneURL,
		SHA:        r.SHA,
		FetchRef:   r.FetchRef,
		Author:     r.Author,
		Sender:     r.Sender,
		CreatedAt:  fromMillis(r.CreatedAt),
		Runs:       []core.Run(r.Runs),
	}
}

const commitJobColumns = `id, version, delivery_id, repo, repo_full, clone_url, sha, fetch_ref, author, sender, created_at, runs`

// FindCommitJobs returns the jobs matching filter in insertion order.
func (s *Store) FindCommitJobs(ctx context.Context, filter core.JobFilter) ([]*core.CommitJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.RepoFull != "" {
		where = append(where, "repo_full = ?")
		args = append(args, filter.RepoFull)
	}
	if filter.SHA != "" {
		where = append(where, "sha = ?")
		args = append(args, filter.SHA)
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UnixMilli())
	}

	query := "SELECT " + commitJobColumns + " FROM commit_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	var rows []commitJobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find commit jobs: %w", err)
	}

	jobs := make([]*core.CommitJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toCore())
	}
	return jobs, nil
}

// GetCommitJob loads a single job by id.
func (s *Store) GetCommitJob(ctx context.Context, id int64) (*core.CommitJob, error) {
	var row commitJobRow
	query := "SELECT " + commitJobColumns + " FROM commit_jobs WHERE id = ?"
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commit job %d: %w", id, err)
	}
	return row.toCore(), nil
}

// InsertCommitJob stores a new job and fills in its ID, Version and CreatedAt.
func (s *Store) InsertCommitJob(ctx context.Context, job *core.CommitJob) error {
	return insertCommitJob(ctx, s.db, job)
}

func insertCommitJob(ctx context.Context, q sqlx.ExtContext, job *core.CommitJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Runs == nil {
		job.Runs = []core.Run{}
	}
	runs, err := encodeRuns(job.Runs)
	if err != nil {
		return err
	}

	query := `INSERT INTO commit_jobs (version, delivery_id, repo, repo_full, clone_url, sha, fetch_ref, author, sender, created_at, runs)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, version`
	err = q.QueryRowxContext(ctx, q.Rebind(query),
		job.DeliveryID, job.Repo, job.RepoFull, job.CloneURL, job.SHA, job.FetchRef,
		job.Author, job.Sender, job.CreatedAt.UnixMilli(), runs,
	).Scan(&job.ID, &job.Version)
	if err != nil {
		return fmt.Errorf("failed to insert commit job %s@%s: %w", job.RepoFull, job.SHA, err)
	}
	return nil
}

// UpdateRuns replaces the run list if the job is still at expectedVersion.
func (s *Store) UpdateRuns(ctx context.Context, id, expectedVersion int64, runs []core.Run) (int64, error) {
	encoded, err := encodeRuns(runs)
	if err != nil {
		return 0, err
	}

	affected, err := s.exec(ctx,
		`UPDATE commit_jobs SET runs = ?, version = version + 1 WHERE id = ? AND version = ?`,
		encoded, id, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update runs of commit job %d: %w", id, err)
	}
	if affected == 0 {
		return 0, s.missingOrConflict(ctx, "commit_jobs", id)
	}
	return expectedVersion + 1, nil
}
