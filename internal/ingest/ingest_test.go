package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// fakeDeliveries stores deliveries and jobs together, leaving both untouched
// when the job insert fails.
type fakeDeliveries struct {
	mu        sync.Mutex
	seen      map[string]string
	inserted  []*core.CommitJob
	insertErr error
}

func (f *fakeDeliveries) RecordDelivery(_ context.Context, d *core.WebhookDelivery, job *core.CommitJob) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]string{}
	}
	if _, ok := f.seen[d.DeliveryID]; ok {
		return false, nil
	}
	if job != nil {
		if f.insertErr != nil {
			return false, f.insertErr
		}
		job.ID = int64(len(f.inserted) + 1)
		f.inserted = append(f.inserted, job)
	}
	f.seen[d.DeliveryID] = d.Event
	return true, nil
}

type countingNotifier struct{ count int }

func (n *countingNotifier) Notify() { n.count++ }

func newTestIngestor() (*Ingestor, *fakeDeliveries, *countingNotifier) {
	cfg := &config.Config{GitHub: config.GitHubConfig{
		TrustedAuthors: []string{"alice"},
		Repos:          []string{"svaarala/duktape"},
		DefaultBranch:  "master",
	}}
	deliveries := &fakeDeliveries{}
	notifier := &countingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestor(cfg, deliveries, notifier, logger), deliveries, notifier
}

const pushPayload = `{
  "ref": "refs/heads/master",
  "after": "abc123",
  "repository": {
    "name": "duktape",
    "full_name": "svaarala/duktape",
    "clone_url": "https://github.com/svaarala/duktape.git",
    "default_branch": "master"
  },
  "head_commit": {"committer": {"username": "alice"}}
}`

const pullRequestPayload = `{
  "action": "synchronize",
  "number": 42,
  "sender": {"login": "alice"},
  "pull_request": {"user": {"login": "alice"}, "head": {"sha": "def456"}},
  "repository": {
    "name": "duktape",
    "full_name": "svaarala/duktape",
    "clone_url": "https://github.com/svaarala/duktape.git"
  }
}`

func TestIngest_PushCreatesJob(t *testing.T) {
	ing, jobs, notifier := newTestIngestor()

	result, err := ing.Ingest(context.Background(), EventPush, "d-1", []byte(pushPayload))
	require.NoError(t, err)
	require.NotNil(t, result.Job)
	assert.Empty(t, result.Ignored)

	require.Len(t, jobs.inserted, 1)
	job := jobs.inserted[0]
	assert.Equal(t, "abc123", job.SHA)
	assert.Equal(t, "svaarala/duktape", job.RepoFull)
	assert.Equal(t, "d-1", job.DeliveryID)
	assert.Empty(t, job.Runs)
	assert.Equal(t, 1, notifier.count)
}

func TestIngest_PullRequestCreatesJob(t *testing.T) {
	ing, jobs, _ := newTestIngestor()

	result, err := ing.Ingest(context.Background(), EventPullRequest, "d-2", []byte(pullRequestPayload))
	require.NoError(t, err)
	require.NotNil(t, result.Job)
	assert.Equal(t, "def456", jobs.inserted[0].SHA)
	assert.Equal(t, "+refs/pull/42/head", jobs.inserted[0].FetchRef)
}

func TestIngest_RedeliveryIsDropped(t *testing.T) {
	ing, jobs, notifier := newTestIngestor()
	ctx := context.Background()

	_, err := ing.Ingest(ctx, EventPush, "d-1", []byte(pushPayload))
	require.NoError(t, err)
	result, err := ing.Ingest(ctx, EventPush, "d-1", []byte(pushPayload))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, jobs.inserted, 1)
	assert.Equal(t, 1, notifier.count)
}

func TestIngest_IgnoredEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   string
	}{
		{name: "ping", eventType: "ping", payload: `{"zen":"Keep it logically awesome."}`},
		{name: "untrusted committer", eventType: EventPush, payload: `{
			"ref": "refs/heads/master", "after": "abc",
			"repository": {"name": "duktape", "full_name": "svaarala/duktape", "clone_url": "x"},
			"head_commit": {"committer": {"username": "mallory"}}}`},
		{name: "closed pull request", eventType: EventPullRequest, payload: `{"action": "closed", "number": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, deliveries, notifier := newTestIngestor()
			result, err := ing.Ingest(context.Background(), tt.eventType, "", []byte(tt.payload))
			require.NoError(t, err)
			assert.NotEmpty(t, result.Ignored)
			assert.NotEmpty(t, result.DeliveryID, "a delivery id is generated when missing")
			assert.Empty(t, deliveries.inserted)
			assert.Zero(t, notifier.count)
			assert.Len(t, deliveries.seen, 1, "every delivery is recorded")
		})
	}
}

func TestIngest_MalformedPayload(t *testing.T) {
	ing, deliveries, _ := newTestIngestor()
	_, err := ing.Ingest(context.Background(), EventPush, "d-1", []byte(`{not json`))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, deliveries.seen)
}

func TestIngest_StoreFailure(t *testing.T) {
	ing, deliveries, notifier := newTestIngestor()
	deliveries.insertErr = errors.New("disk full")

	_, err := ing.Ingest(context.Background(), EventPush, "d-1", []byte(pushPayload))
	assert.Error(t, err)
	assert.Zero(t, notifier.count)
	assert.Empty(t, deliveries.seen, "a failed insert leaves no delivery record")
}

func TestIngest_RedeliveryAfterStoreFailureCreatesJob(t *testing.T) {
	ing, deliveries, notifier := newTestIngestor()
	ctx := context.Background()

	deliveries.insertErr = errors.New("connection reset")
	_, err := ing.Ingest(ctx, EventPush, "d-1", []byte(pushPayload))
	require.Error(t, err)

	deliveries.insertErr = nil
	result, err := ing.Ingest(ctx, EventPush, "d-1", []byte(pushPayload))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	require.NotNil(t, result.Job)
	require.Len(t, deliveries.inserted, 1)
	assert.Equal(t, "abc123", deliveries.inserted[0].SHA)
	assert.Equal(t, 1, notifier.count)

	again, err := ing.Ingest(ctx, EventPush, "d-1", []byte(pushPayload))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, deliveries.inserted, 1)
}
