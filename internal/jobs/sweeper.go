package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// Sweeper reopens runs that were assigned but never reported as finished, so
// that a worker which disappeared does not block a context forever.
type Sweeper struct {
	store          core.JobStore
	notifier       core.WorkNotifier
	interval       time.Duration
	jobRetention   time.Duration
	pendingTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewSweeper creates a sweeper from the dispatch settings.
func NewSweeper(cfg *config.Config, store core.JobStore, notifier core.WorkNotifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:          store,
		notifier:       notifier,
		interval:       cfg.Dispatch.SweepInterval,
		jobRetention:   cfg.Dispatch.JobRetention,
		pendingTimeout: cfg.Dispatch.PendingTimeout(),
		logger:         logger,
		now:            time.Now,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("starting staleness sweeper", "interval", s.interval, "pending_timeout", s.pendingTimeout)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("staleness sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("staleness sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep removes every pending run older than the pending timeout from the
// eligible jobs and returns how many contexts were reopened. Failures on one
// job are logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	jobs, err := s.store.FindCommitJobs(ctx, core.JobFilter{CreatedAfter: now.Add(-s.jobRetention)})
	if err != nil {
		return 0, fmt.Errorf("failed to load commit jobs for sweep: %w", err)
	}

	reopened := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return reopened, err
		}
		n, err := s.sweepJob(ctx, job, now)
		if err != nil {
			s.logger.Error("failed to sweep commit job", "job_id", job.ID, "repo", job.RepoFull, "sha", job.SHA, "error", err)
			continue
		}
		reopened += n
	}

	s.logger.Info("staleness sweep complete", "jobs", len(jobs), "reopened", reopened)
	if reopened > 0 {
		s.notifier.Notify()
	}
	return reopened, nil
}

func (s *Sweeper) sweepJob(ctx context.Context, job *core.CommitJob, now time.Time) (int, error) {
	for range maxConflictRetries {
		keep := make([]core.Run, 0, len(job.Runs))
		for _, run := range job.Runs {
			if !run.Finished() && now.Sub(run.StartTime) > s.pendingTimeout {
				s.logger.Info("reopening stale run",
					"repo", job.RepoFull,
					"sha", job.SHA,
					"context", run.Context,
					"client_name", run.ClientName,
					"started", run.StartTime,
				)
				continue
			}
			keep = append(keep, run)
		}
		removed := len(job.Runs) - len(keep)
		if removed == 0 {
			return 0, nil
		}

		_, err := s.store.UpdateRuns(ctx, job.ID, job.Version, keep)
		if errors.Is(err, core.ErrConflict) {
			fresh, getErr := s.store.GetCommitJob(ctx, job.ID)
			if getErr != nil {
				return 0, getErr
			}
			job = fresh
			continue
		}
		if err != nil {
			return 0, err
		}
		return removed, nil
	}
	return 0, fmt.Errorf("commit job %d: %w", job.ID, core.ErrConflict)
}
