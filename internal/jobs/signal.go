package jobs

import "github.com/sevigo/testrunner/internal/core"

// WorkSignal coalesces "new work available" notifications into a single
// pending wake-up for the dispatcher loop.
type WorkSignal struct {
	ch chan struct{}
}

var _ core.WorkNotifier = (*WorkSignal)(nil)

// NewWorkSignal returns a signal with room for one pending wake-up.
func NewWorkSignal() *WorkSignal {
	return &WorkSignal{ch: make(chan struct{}, 1)}
}

// Notify requests a dispatch pass. It never blocks.
func (s *WorkSignal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C is readable whenever at least one Notify happened since the last read.
func (s *WorkSignal) C() <-chan struct{} {
	return s.ch
}
