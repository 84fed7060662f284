// Package jobs implements the matching engine that hands commit jobs to
// long-polling workers, the staleness sweeper and the run completion service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/registry"
)

// maxConflictRetries bounds how often a single match or run update is
// re-evaluated after losing a conditional update.
const maxConflictRetries = 5

// unassignTimeout bounds the store calls made after a client has left.
const unassignTimeout = 5 * time.Second

// ErrRequestTimeout is returned to a worker whose request expired unmatched.
var ErrRequestTimeout = errors.New("no work became available before the request timed out")

// Dispatcher matches pending worker requests against eligible commit jobs.
// Passes may overlap; correctness rests on the registry reservation and the
// conditional run update, not on passes being serialized.
type Dispatcher struct {
	store          core.JobStore
	registry       *registry.Registry
	statuses       core.RunStatusRecorder
	signal         *WorkSignal
	tickInterval   time.Duration
	requestTimeout time.Duration
	jobRetention   time.Duration
	webBaseURI     string
	logger         *slog.Logger
	now            func() time.Time

	mu          sync.Mutex
	lastPending int
}

// NewDispatcher creates a dispatcher from the dispatch and server settings.
func NewDispatcher(
	cfg *config.Config,
	store core.JobStore,
	reg *registry.Registry,
	statuses core.RunStatusRecorder,
	signal *WorkSignal,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:          store,
		registry:       reg,
		statuses:       statuses,
		signal:         signal,
		tickInterval:   cfg.Dispatch.TickInterval,
		requestTimeout: cfg.Dispatch.RequestTimeout,
		jobRetention:   cfg.Dispatch.JobRetention,
		webBaseURI:     cfg.Server.WebBaseURI,
		logger:         logger,
		now:            time.Now,
	}
}

// WaitForWork registers a long-poll for the given contexts and blocks until it
// is matched, it expires (ErrRequestTimeout) or ctx is cancelled.
func (d *Dispatcher) WaitForWork(ctx context.Context, contexts []string, clientName string) (*core.WorkAssignment, error) {
	req, err := d.registry.Register(contexts, clientName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	d.logger.Debug("registered work request", "request_id", req.ID, "client_name", clientName, "contexts", req.Contexts)
	d.logPending()
	d.signal.Notify()

	select {
	case out := <-req.Result():
		return outcome(out)
	case <-ctx.Done():
	}

	// The client went away. A request held by a running pass cannot be removed
	// until that pass has either assigned or released it.
	for !d.registry.Remove(req.ID) {
		select {
		case out := <-req.Result():
			if out.Assignment != nil {
				d.unassign(ctx, clientName, out.Assignment)
			}
			d.logPending()
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	d.logPending()
	return nil, ctx.Err()
}

// unassign takes back a run whose client left before it was delivered. The
// removal is conditional on the version the run was written at; if the job
// moved on since, the run is left for the sweeper.
func (d *Dispatcher) unassign(ctx context.Context, clientName string, a *core.WorkAssignment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unassignTimeout)
	defer cancel()
	log := d.logger.With("client_name", clientName, "repo", a.RepoFull, "sha", a.SHA, "context", a.Context)

	job, err := d.store.GetCommitJob(ctx, a.JobID)
	if err != nil {
		log.Error("failed to reload commit job of abandoned run", "job_id", a.JobID, "error", err)
		return
	}
	i := job.FindRun(a.Context)
	if i < 0 || job.Version != a.Version {
		log.Warn("client disconnected after assignment; run stays pending until swept")
		return
	}
	runs := slices.Delete(job.CloneRuns(), i, i+1)
	if _, err := d.store.UpdateRuns(ctx, job.ID, a.Version, runs); err != nil {
		log.Warn("client disconnected after assignment; run stays pending until swept", "error", err)
		return
	}
	log.Info("client disconnected after assignment; reopened run")
	d.signal.Notify()
}

func outcome(out registry.Outcome) (*core.WorkAssignment, error) {
	if out.TimedOut || out.Assignment == nil {
		return nil, ErrRequestTimeout
	}
	return out.Assignment, nil
}

// Run executes dispatch passes on every tick and whenever work is signalled,
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting dispatcher", "tick", d.tickInterval, "request_timeout", d.requestTimeout)
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		if err := d.Pass(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.signal.C():
		}
	}
}

// Pass expires old requests and then assigns as many pending requests as
// possible, visiting jobs newest first and requests in arrival order.
func (d *Dispatcher) Pass(ctx context.Context) error {
	now := d.now()
	defer d.logPending()

	if expired := d.registry.Expire(now, d.requestTimeout); expired > 0 {
		d.logger.Debug("expired work requests", "count", expired)
	}
	if d.registry.Len() == 0 {
		return nil
	}

	jobs, err := d.store.FindCommitJobs(ctx, core.JobFilter{CreatedAfter: now.Add(-d.jobRetention)})
	if err != nil {
		return fmt.Errorf("failed to load eligible commit jobs: %w", err)
	}
	slices.SortStableFunc(jobs, func(a, b *core.CommitJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	for _, job := range jobs {
		for _, req := range d.registry.Snapshot() {
			if err := ctx.Err(); err != nil {
				return err
			}
			job = d.tryMatch(ctx, job, req)
		}
	}
	return nil
}

// tryMatch assigns the first context of req that job has no run for. It
// returns the most recent known state of job.
func (d *Dispatcher) tryMatch(ctx context.Context, job *core.CommitJob, req *registry.Request) *core.CommitJob {
	if !d.registry.Reserve(req.ID) {
		return job
	}
	assigned := false
	defer func() {
		if !assigned {
			d.registry.Release(req.ID)
		}
	}()

	for range maxConflictRetries {
		runContext := firstUnassigned(job, req.Contexts)
		if runContext == "" {
			return job
		}

		runs := append(job.CloneRuns(), core.Run{
			Context:    runContext,
			ClientName: req.ClientName,
			StartTime:  d.now().UTC(),
		})
		version, err := d.store.UpdateRuns(ctx, job.ID, job.Version, runs)
		if errors.Is(err, core.ErrConflict) {
			d.logger.Debug("lost assignment race, re-evaluating", "job_id", job.ID, "context", runContext)
			fresh, getErr := d.store.GetCommitJob(ctx, job.ID)
			if getErr != nil {
				d.logger.Error("failed to reload commit job", "job_id", job.ID, "error", getErr)
				return job
			}
			job = fresh
			continue
		}
		if err != nil {
			d.logger.Error("failed to assign run", "job_id", job.ID, "context", runContext, "error", err)
			return job
		}

		updated := *job
		updated.Runs = runs
		updated.Version = version
		job = &updated

		assigned = d.registry.Fulfill(req.ID, core.AssignmentFor(job, runContext))
		d.logger.Info("assigned run",
			"repo", job.RepoFull,
			"sha", job.SHA,
			"context", runContext,
			"client_name", req.ClientName,
		)
		d.recordStarted(ctx, job, runContext, req.ClientName)
		return job
	}

	d.logger.Warn("giving up on contended commit job for this pass", "job_id", job.ID)
	return job
}

func firstUnassigned(job *core.CommitJob, contexts []string) string {
	for _, c := range contexts {
		if !job.HasRun(c) {
			return c
		}
	}
	return ""
}

func (d *Dispatcher) recordStarted(ctx context.Context, job *core.CommitJob, runContext, clientName string) {
	if clientName == "" {
		clientName = "no client name"
	}
	err := d.statuses.RecordRunStarted(ctx, job.StatusKey(runContext),
		fmt.Sprintf("Running... (%s)", clientName),
		d.webBaseURI+"/",
	)
	if err != nil {
		d.logger.Error("failed to record started run status", "repo", job.RepoFull, "sha", job.SHA, "context", runContext, "error", err)
	}
}

func (d *Dispatcher) logPending() {
	n := d.registry.Len()

	d.mu.Lock()
	defer d.mu.Unlock()
	if n != d.lastPending {
		d.logger.Info("pending clients", "from", d.lastPending, "to", n)
		d.lastPending = n
	}
}
