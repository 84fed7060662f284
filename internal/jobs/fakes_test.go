package jobs

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/sevigo/testrunner/internal/blobstore"
	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// memStore is a versioned in-memory JobStore with the same conditional update
// contract as the SQL store.
type memStore struct {
	mu      sync.Mutex
	jobs    []*core.CommitJob
	nextID  int64
	updates int
	findErr error
}

func cloneJob(job *core.CommitJob) *core.CommitJob {
	c := *job
	c.Runs = job.CloneRuns()
	return &c
}

func (m *memStore) FindCommitJobs(_ context.Context, filter core.JobFilter) ([]*core.CommitJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := []*core.CommitJob{}
	for _, job := range m.jobs {
		if filter.RepoFull != "" && job.RepoFull != filter.RepoFull {
			continue
		}
		if filter.SHA != "" && job.SHA != filter.SHA {
			continue
		}
		if !filter.CreatedAfter.IsZero() && job.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func (m *memStore) GetCommitJob(_ context.Context, id int64) (*core.CommitJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			return cloneJob(job), nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memStore) InsertCommitJob(_ context.Context, job *core.CommitJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = m.nextID
	job.Version = 1
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Runs == nil {
		job.Runs = []core.Run{}
	}
	m.jobs = append(m.jobs, cloneJob(job))
	return nil
}

func (m *memStore) UpdateRuns(_ context.Context, id, expectedVersion int64, runs []core.Run) (int64, error) {
	// Yield so overlapping passes interleave between read and write.
	runtime.Gosched()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID != id {
			continue
		}
		if job.Version != expectedVersion {
			return 0, core.ErrConflict
		}
		job.Runs = append([]core.Run(nil), runs...)
		job.Version++
		m.updates++
		return job.Version, nil
	}
	return 0, core.ErrNotFound
}

func (m *memStore) job(id int64) *core.CommitJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			return cloneJob(job)
		}
	}
	return nil
}

type statusCall struct {
	Key         core.StatusKey
	State       string
	Description string
	TargetURL   string
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []statusCall
	finished []statusCall
	err      error
}

func (f *fakeRecorder) RecordRunStarted(_ context.Context, key core.StatusKey, description, targetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, statusCall{Key: key, Description: description, TargetURL: targetURL})
	return f.err
}

func (f *fakeRecorder) RecordRunFinished(_ context.Context, key core.StatusKey, state, description, targetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, statusCall{Key: key, State: state, Description: description, TargetURL: targetURL})
	return f.err
}

func (f *fakeRecorder) startedCalls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.started...)
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (b *memBlobs) Put(data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blobs == nil {
		b.blobs = map[string][]byte{}
	}
	hash := blobstore.Hash(data)
	b.blobs[hash] = append([]byte(nil), data...)
	return hash, nil
}

func (b *memBlobs) Open(hash string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{WebBaseURI: "https://ci.example.com"},
		Dispatch: config.DispatchConfig{
			TickInterval:       10 * time.Millisecond,
			RequestTimeout:     5 * time.Minute,
			JobRetention:       72 * time.Hour,
			SweepInterval:      time.Hour,
			PendingTimeoutDays: 1,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(sha string, createdAt time.Time) *core.CommitJob {
	return &core.CommitJob{
		Repo:      "duktape",
		RepoFull:  "svaarala/duktape",
		CloneURL:  "https://github.com/svaarala/duktape.git",
		SHA:       sha,
		CreatedAt: createdAt,
		Runs:      []core.Run{},
	}
}
