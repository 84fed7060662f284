package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// maxBackoffSteps caps how far the exponential schedule is walked.
const maxBackoffSteps = 32

// PushResult summarizes one push pass.
type PushResult struct {
	Pushed    int
	Dropped   int
	Failed    int
	Throttled int
	Deferred  int
	// TokensLeft is the push budget remaining after the pass.
	TokensLeft float64
}

// Reconciler records run transitions in the status mirror and pushes dirty
// mirror entries upstream.
type Reconciler struct {
	store          core.StatusStore
	client         core.StatusClient
	limiter        *RateLimiter
	interval       time.Duration
	backoffEnabled bool
	backoffInitial time.Duration
	backoffMax     time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

var _ core.RunStatusRecorder = (*Reconciler)(nil)

// NewReconciler creates a reconciler from the status settings.
func NewReconciler(cfg *config.Config, store core.StatusStore, client core.StatusClient, limiter *RateLimiter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:          store,
		client:         client,
		limiter:        limiter,
		interval:       cfg.Status.PushInterval,
		backoffEnabled: cfg.Status.BackoffEnabled,
		backoffInitial: cfg.Status.BackoffInitial,
		backoffMax:     cfg.Status.BackoffMax,
		logger:         logger,
		now:            time.Now,
	}
}

// RecordRunStarted creates a pending mirror entry. The first writer wins; an
// existing entry is left untouched.
func (r *Reconciler) RecordRunStarted(ctx context.Context, key core.StatusKey, description, targetURL string) error {
	created, err := r.store.CreateStatus(ctx, &core.StatusEntry{
		Key:         key,
		State:       core.StatusStatePending,
		Description: description,
		TargetURL:   targetURL,
	})
	if err != nil {
		return fmt.Errorf("failed to record started status %s: %w", key, err)
	}
	if !created {
		r.logger.Debug("status entry already exists", "status", key.String())
	}
	return nil
}

// RecordRunFinished creates the mirror entry or updates the existing one, and
// leaves it dirty.
func (r *Reconciler) RecordRunFinished(ctx context.Context, key core.StatusKey, state, description, targetURL string) error {
	created, err := r.store.CreateStatus(ctx, &core.StatusEntry{
		Key:         key,
		State:       state,
		Description: description,
		TargetURL:   targetURL,
	})
	if err != nil {
		return fmt.Errorf("failed to record finished status %s: %w", key, err)
	}
	if created {
		return nil
	}
	err = r.store.UpdateStatus(ctx, key, core.StatusUpdate{
		State:       &state,
		Description: &description,
		TargetURL:   &targetURL,
	})
	if err != nil {
		return fmt.Errorf("failed to update finished status %s: %w", key, err)
	}
	return nil
}

// Run pushes dirty entries on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("starting status reconciler", "interval", r.interval, "backoff", r.backoffEnabled)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("status reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.PushDirtyEntries(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("status push failed", "error", err)
			}
		}
	}
}

// PushDirtyEntries writes every dirty entry upstream, one token per write.
// Entries that cannot be pushed now stay dirty for a later pass.
func (r *Reconciler) PushDirtyEntries(ctx context.Context) (PushResult, error) {
	var result PushResult

	entries, err := r.store.ListDirtyStatuses(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list dirty statuses: %w", err)
	}

	now := r.now()
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.NextAttemptAt.IsZero() && now.Before(entry.NextAttemptAt) {
			result.Deferred++
			continue
		}
		if !r.limiter.TryConsume() {
			result.Throttled = len(entries) - i
			break
		}

		err := r.client.CreateStatus(ctx, entry.Key, entry.State, entry.Description, entry.TargetURL)
		switch {
		case err == nil:
			result.Pushed++
			r.markClean(ctx, entry)
		case errors.Is(err, core.ErrStatusTargetGone):
			result.Dropped++
			r.logger.Warn("status target is gone, giving up", "status", entry.Key.String(), "error", err)
			r.markClean(ctx, entry)
		default:
			result.Failed++
			r.logger.Warn("status push failed, will retry", "status", entry.Key.String(), "attempts", entry.Attempts+1, "error", err)
			r.scheduleRetry(ctx, entry, now)
		}
	}

	result.TokensLeft = r.limiter.Available()
	if len(entries) > 0 {
		r.logger.Info("status push pass complete",
			"dirty", len(entries),
			"pushed", result.Pushed,
			"dropped", result.Dropped,
			"failed", result.Failed,
			"throttled", result.Throttled,
			"deferred", result.Deferred,
			"tokens_left", int(result.TokensLeft),
		)
	}
	return result, nil
}

func (r *Reconciler) markClean(ctx context.Context, entry *core.StatusEntry) {
	err := r.store.MarkStatusClean(ctx, entry.ID, entry.Revision)
	switch {
	case errors.Is(err, core.ErrConflict):
		r.logger.Debug("status changed during push, staying dirty", "status", entry.Key.String())
	case err != nil:
		r.logger.Error("failed to mark status clean", "status", entry.Key.String(), "error", err)
	}
}

func (r *Reconciler) scheduleRetry(ctx context.Context, entry *core.StatusEntry, now time.Time) {
	if !r.backoffEnabled {
		return
	}
	attempts := entry.Attempts + 1
	next := now.Add(r.backoffDelay(attempts))
	err := r.store.RecordStatusAttempt(ctx, entry.ID, entry.Revision, attempts, next)
	if err != nil && !errors.Is(err, core.ErrConflict) {
		r.logger.Error("failed to record status attempt", "status", entry.Key.String(), "error", err)
	}
}

// backoffDelay is the wait before the given attempt: backoffInitial doubled
// per earlier failure, capped at backoffMax.
func (r *Reconciler) backoffDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoffInitial
	b.MaxInterval = r.backoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts && i < maxBackoffSteps; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
