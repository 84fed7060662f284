package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Run states a worker may report when finishing a context.
const (
	RunStateSuccess = "success"
	RunStateFailure = "failure"
)

// Run is one context assigned within a CommitJob. A run is pending while
// EndTime is nil and finished (terminal) once EndTime is set.
type Run struct {
	Context        string          `json:"context"`
	ClientName     string          `json:"client_name,omitempty"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        *time.Time      `json:"end_time"`
	State          string          `json:"state,omitempty"`
	Description    string          `json:"description,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	OutputLocation string          `json:"output_location,omitempty"`
}

// Finished reports whether a worker has reported completion for the run.
func (r Run) Finished() bool {
	return r.EndTime != nil
}

// CommitJob is the durable record of a commit's test obligations and the
// history of runs assigned for it. Version is bumped on every mutation of
// Runs and is the key for conditional updates.
type CommitJob struct {
	ID         int64     `json:"id"`
	Version    int64     `json:"version"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	Repo       string    `json:"repo"`
	RepoFull   string    `json:"repo_full"`
	CloneURL   string    `json:"repo_clone_url"`
	SHA        string    `json:"sha"`
	FetchRef   string    `json:"fetch_ref,omitempty"`
	Author     string    `json:"author,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Runs       []Run     `json:"runs"`
}

// FindRun returns the index of the run for the given context, or -1.
func (j *CommitJob) FindRun(context string) int {
	for i := range j.Runs {
		if j.Runs[i].Context == context {
			return i
		}
	}
	return -1
}

// HasRun reports whether the context has already been assigned for this job.
func (j *CommitJob) HasRun(context string) bool {
	return j.FindRun(context) >= 0
}

// Owner returns the owner part of RepoFull.
func (j *CommitJob) Owner() string {
	owner, _, _ := strings.Cut(j.RepoFull, "/")
	return owner
}

// StatusKey returns the external status line of context for this commit.
func (j *CommitJob) StatusKey(context string) StatusKey {
	_, name, found := strings.Cut(j.RepoFull, "/")
	if !found || name == "" {
		name = j.Repo
	}
	return StatusKey{Owner: j.Owner(), Repo: name, SHA: j.SHA, Context: context}
}

// CloneRuns returns a copy of the run list that can be mutated without
// touching the job.
func (j *CommitJob) CloneRuns() []Run {
	runs := make([]Run, len(j.Runs), len(j.Runs)+1)
	copy(runs, j.Runs)
	return runs
}

// WorkAssignment is the job descriptor handed to a worker for one context.
type WorkAssignment struct {
	Repo     string `json:"repo"`
	RepoFull string `json:"repo_full"`
	CloneURL string `json:"repo_clone_url"`
	SHA      string `json:"sha"`
	FetchRef string `json:"fetch_ref,omitempty"`
	Context  string `json:"context"`

	// JobID and Version identify the job state the run was written at.
	JobID   int64 `json:"-"`
	Version int64 `json:"-"`
}

// AssignmentFor builds the descriptor a worker receives for context.
func AssignmentFor(job *CommitJob, context string) WorkAssignment {
	return WorkAssignment{
		Repo:     job.Repo,
		RepoFull: job.RepoFull,
		CloneURL: job.CloneURL,
		SHA:      job.SHA,
		FetchRef: job.FetchRef,
		Context:  context,
		JobID:    job.ID,
		Version:  job.Version,
	}
}

// WebhookDelivery is the raw record of a received webhook. DeliveryID is the
// idempotency key used to drop redelivered events.
type WebhookDelivery struct {
	DeliveryID string
	Event      string
	Payload    []byte
	ReceivedAt time.Time
}
