package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// FinishReport is a worker's completion report for one run.
type FinishReport struct {
	RepoFull    string
	SHA         string
	Context     string
	State       string
	Description string
	Result      json.RawMessage
	Output      []byte
}

// CommitQueryResult is one item of a batch query. Job is nil when no commit
// job exists for SHA.
type CommitQueryResult struct {
	SHA string
	Job *core.CommitJob
}

// Service implements the run completion and query boundary operations.
type Service struct {
	store      core.JobStore
	blobs      core.BlobStore
	statuses   core.RunStatusRecorder
	webBaseURI string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates the completion and query service.
func NewService(cfg *config.Config, store core.JobStore, blobs core.BlobStore, statuses core.RunStatusRecorder, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		blobs:      blobs,
		statuses:   statuses,
		webBaseURI: cfg.Server.WebBaseURI,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *FinishReport) validate() error {
	if r.RepoFull == "" || r.SHA == "" || r.Context == "" {
		return fmt.Errorf("%w: repo_full, sha and context are required", core.ErrInvalidInput)
	}
	if r.State != core.RunStateSuccess && r.State != core.RunStateFailure {
		return fmt.Errorf("%w: state must be %q or %q, got %q", core.ErrInvalidInput, core.RunStateSuccess, core.RunStateFailure, r.State)
	}
	return nil
}

// LatestCommitJob returns the most recently inserted job for (repoFull, sha).
func (s *Service) LatestCommitJob(ctx context.Context, repoFull, sha string) (*core.CommitJob, error) {
	jobs, err := s.store.FindCommitJobs(ctx, core.JobFilter{RepoFull: repoFull, SHA: sha})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, core.ErrNotFound
	}
	if len(jobs) > 1 {
		s.logger.Warn("duplicate commit jobs, using latest", "repo", repoFull, "sha", sha, "count", len(jobs))
	}
	return jobs[len(jobs)-1], nil
}

// FinishRun records a completion report. Reporting a run that is already
// finished succeeds without changing it.
func (s *Service) FinishRun(ctx context.Context, report FinishReport) error {
	if err := report.validate(); err != nil {
		return err
	}

	var hash string
	for range maxConflictRetries {
		job, err := s.LatestCommitJob(ctx, report.RepoFull, report.SHA)
		if err != nil {
			return fmt.Errorf("commit %s@%s: %w", report.RepoFull, report.SHA, err)
		}
		idx := job.FindRun(report.Context)
		if idx < 0 {
			return fmt.Errorf("run %s for commit %s@%s: %w", report.Context, report.RepoFull, report.SHA, core.ErrNotFound)
		}
		if job.Runs[idx].Finished() {
			s.logger.Info("ignoring repeated completion report",
				"repo", report.RepoFull, "sha", report.SHA, "context", report.Context)
			return nil
		}

		if hash == "" {
			if hash, err = s.blobs.Put(report.Output); err != nil {
				return fmt.Errorf("failed to store run output: %w", err)
			}
		}

		end := s.now().UTC()
		runs := job.CloneRuns()
		run := &runs[idx]
		run.EndTime = &end
		run.State = report.State
		run.Description = report.Description
		run.Result = resultOrEmpty(report.Result)
		run.OutputLocation = hash

		_, err = s.store.UpdateRuns(ctx, job.ID, job.Version, runs)
		if errors.Is(err, core.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to record finished run: %w", err)
		}

		s.logger.Info("run finished",
			"repo", report.RepoFull,
			"sha", report.SHA,
			"context", report.Context,
			"state", report.State,
			"output", hash,
		)
		err = s.statuses.RecordRunFinished(ctx, job.StatusKey(report.Context),
			statusState(report.State), report.Description, s.webBaseURI+"/out/"+hash)
		if err != nil {
			s.logger.Error("failed to record finished run status",
				"repo", report.RepoFull, "sha", report.SHA, "context", report.Context, "error", err)
		}
		return nil
	}
	return fmt.Errorf("finishing run %s for %s@%s: %w", report.Context, report.RepoFull, report.SHA, core.ErrConflict)
}

func resultOrEmpty(result json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	return result
}

func statusState(runState string) string {
	if runState == core.RunStateSuccess {
		return core.StatusStateSuccess
	}
	return core.StatusStateFailure
}

// QueryCommits returns the latest job for each sha. Missing commits yield an
// item with a nil Job rather than failing the batch.
func (s *Service) QueryCommits(ctx context.Context, repoFull string, shas []string) ([]CommitQueryResult, error) {
	if repoFull == "" || len(shas) == 0 {
		return nil, fmt.Errorf("%w: repo_full and at least one sha are required", core.ErrInvalidInput)
	}
	results := make([]CommitQueryResult, 0, len(shas))
	for _, sha := range shas {
		job, err := s.LatestCommitJob(ctx, repoFull, sha)
		switch {
		case errors.Is(err, core.ErrNotFound):
			results = append(results, CommitQueryResult{SHA: sha})
		case err != nil:
			return nil, fmt.Errorf("failed to query commit %s@%s: %w", repoFull, sha, err)
		default:
			results = append(results, CommitQueryResult{SHA: sha, Job: job})
		}
	}
	return results, nil
}
