package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// inflight tracks the cancel functions of running backend calls so they
// can be abandoned together when the controller closes
type inflight struct {
	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

func newInflight() *inflight {
	return &inflight{cancels: make(map[string]context.CancelFunc)}
}

// begin derives a call context from parent, bounded by timeout when it is
// positive, and registers it under a fresh request id. The returned func
// must be called once the call returns. After close, call contexts are
// born cancelled.
func (f *inflight) begin(parent context.Context, timeout time.Duration) (context.Context, string, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	requestID := uuid.New().String()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return ctx, requestID, cancel
	}
	f.cancels[requestID] = cancel
	f.mu.Unlock()

	return ctx, requestID, func() {
		f.mu.Lock()
		delete(f.cancels, requestID)
		f.mu.Unlock()
		cancel()
	}
}

// cancelAll cancels all active calls
func (f *inflight) cancelAll() {
	f.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(f.cancels))
	for _, cancel := range f.cancels {
		cancels = append(cancels, cancel)
	}
	f.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// close cancels active calls and refuses new ones
func (f *inflight) close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.cancelAll()
	})
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}
