// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"io"
	"time"
)

// JobFilter selects commit jobs. Zero-valued fields do not constrain the result.
type JobFilter struct {
	RepoFull     string
	SHA          string
	CreatedAfter time.Time
}

// JobStore is the durable storage contract for commit jobs. UpdateRuns is the
// only mutation primitive for the run list: it succeeds only if the stored
// version still equals expectedVersion, which is what keeps two overlapping
// matcher passes from assigning the same context twice.
type JobStore interface {
	// FindCommitJobs returns matching jobs in insertion order.
	FindCommitJobs(ctx context.Context, filter JobFilter) ([]*CommitJob, error)
	// GetCommitJob loads a single job. It returns ErrNotFound if it does not exist.
	GetCommitJob(ctx context.Context, id int64) (*CommitJob, error)
	// InsertCommitJob stores a new job and fills in its ID and Version.
	InsertCommitJob(ctx context.Context, job *CommitJob) error
	// UpdateRuns replaces the run list and returns the new version. It returns
	// ErrConflict if the job was modified since expectedVersion was read.
	UpdateRuns(ctx context.Context, id, expectedVersion int64, runs []Run) (int64, error)
}

// StatusStore persists the external status mirror.
type StatusStore interface {
	GetStatus(ctx context.Context, key StatusKey) (*StatusEntry, error)
	// CreateStatus inserts the entry unless one exists for the same key. The
	// returned bool reports whether a row was created.
	CreateStatus(ctx context.Context, entry *StatusEntry) (bool, error)
	// UpdateStatus applies the update, marks the entry dirty, resets its retry
	// state and bumps its revision.
	UpdateStatus(ctx context.Context, key StatusKey, update StatusUpdate) error
	ListDirtyStatuses(ctx context.Context) ([]*StatusEntry, error)
	// MarkStatusClean clears the dirty flag if the entry is still at revision.
	// It returns ErrConflict if the entry changed in the meantime.
	MarkStatusClean(ctx context.Context, id, revision int64) error
	// RecordStatusAttempt stores the retry bookkeeping of a failed push of
	// revision. It returns ErrConflict if the entry changed in the meantime.
	RecordStatusAttempt(ctx context.Context, id, revision int64, attempts int, nextAttemptAt time.Time) error
}

// DeliveryStore keeps the raw record of received webhooks.
type DeliveryStore interface {
	// RecordDelivery stores the delivery together with job, which may be nil,
	// atomically. It reports false and stores nothing if the delivery ID was
	// already recorded.
	RecordDelivery(ctx context.Context, delivery *WebhookDelivery, job *CommitJob) (bool, error)
}

// BlobStore stores run output content-addressed by hash.
type BlobStore interface {
	Put(data []byte) (string, error)
	Open(hash string) (io.ReadCloser, error)
}

// StatusClient writes a commit status to the external status API. It returns
// an error wrapping ErrStatusTargetGone when the rejection is permanent.
//
//go:generate mockgen -destination=../../mocks/mock_status_client.go -package=mocks . StatusClient
type StatusClient interface {
	CreateStatus(ctx context.Context, key StatusKey, state, description, targetURL string) error
}

// WorkNotifier is signalled whenever new work may be available for matching,
// for example after a commit job is inserted or a run is reopened.
type WorkNotifier interface {
	Notify()
}

// RunStatusRecorder mirrors run transitions into the external status tracker.
// Both calls only touch the local mirror; pushing happens asynchronously.
type RunStatusRecorder interface {
	// RecordRunStarted creates the mirror entry. An existing entry is left as is.
	RecordRunStarted(ctx context.Context, key StatusKey, description, targetURL string) error
	// RecordRunFinished creates or updates the mirror entry and marks it dirty.
	RecordRunFinished(ctx context.Context, key StatusKey, state, description, targetURL string) error
}
