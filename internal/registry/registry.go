// Package registry holds the in-memory queue of long-polling worker requests
// waiting for an assignment.
package registry

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/testrunner/internal/core"
)

// ErrNoContexts is returned when a request declares no context it can serve.
var ErrNoContexts = errors.New("at least one context is required")

// Outcome is delivered exactly once to every registered request: either an
// assignment or a timeout.
type Outcome struct {
	Assignment *core.WorkAssignment
	TimedOut   bool
}

// Request is a pending long-poll. Result yields the Outcome once the request
// has been fulfilled or expired.
type Request struct {
	ID         string
	ClientName string
	Contexts   []string
	ArrivedAt  time.Time

	seq      uint64
	reserved bool
	result   chan Outcome
}

// Result returns the channel the request's outcome is delivered on.
func (r *Request) Result() <-chan Outcome {
	return r.result
}

// Registry is a mutex guarded, arrival ordered set of pending requests. A
// request is owned by at most one matcher at a time through Reserve.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]*Request
	now     func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		pending: make(map[string]*Request),
		now:     time.Now,
	}
}

// Register adds a request for the given contexts. Duplicate and empty context
// names are dropped; at least one must remain.
func (r *Registry) Register(contexts []string, clientName string) (*Request, error) {
	cleaned := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if c != "" && !slices.Contains(cleaned, c) {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoContexts
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	req := &Request{
		ID:         uuid.NewString(),
		ClientName: clientName,
		Contexts:   cleaned,
		ArrivedAt:  r.now(),
		seq:        r.seq,
		result:     make(chan Outcome, 1),
	}
	r.pending[req.ID] = req
	return req, nil
}

// Snapshot returns the unreserved requests in arrival order.
func (r *Registry) Snapshot() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Request, 0, len(r.pending))
	for _, req := range r.pending {
		if !req.reserved {
			out = append(out, req)
		}
	}
	slices.SortFunc(out, func(a, b *Request) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// Reserve claims a request for matching. It fails if the request is gone or
// already claimed by another pass.
func (r *Registry) Reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok || req.reserved {
		return false
	}
	req.reserved = true
	return true
}

// Release returns a reserved request to the pool if it is still registered.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req, ok := r.pending[id]; ok {
		req.reserved = false
	}
}

// Fulfill removes the request and delivers the assignment. It reports false
// if the request had already left the registry.
func (r *Registry) Fulfill(id string, assignment core.WorkAssignment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	req.result <- Outcome{Assignment: &assignment}
	return true
}

// Expire removes every unreserved request older than timeout, delivers a
// timeout to each, and returns how many were expired.
func (r *Registry) Expire(now time.Time, timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, req := range r.pending {
		if req.reserved || now.Sub(req.ArrivedAt) < timeout {
			continue
		}
		delete(r.pending, id)
		req.result <- Outcome{TimedOut: true}
		expired++
	}
	return expired
}

// Remove drops an unfulfilled request, for example when its client went away.
// It reports false if the request is unknown or currently reserved.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok || req.reserved {
		return false
	}
	delete(r.pending, id)
	return true
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
