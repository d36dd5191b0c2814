package runner

import (
	"context"
	"sync"

	"lectern/internal/stream"
)

// Hub buffers every envelope published by one run and fans them out to
// attached listeners. Events are retained for the lifetime of the run, so a
// listener can attach at any cursor; runs publish a bounded number of events,
// which keeps the buffer small.
type Hub struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []stream.Envelope
	closed bool
}

// NewHub constructs an empty run event hub.
func NewHub() *Hub {
	h := &Hub{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends an envelope and wakes waiting listeners. Publishing after
// Close is a no-op.
func (h *Hub) Publish(env stream.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events = append(h.events, env)
	h.cond.Broadcast()
}

// Close marks the run as finished. Listeners drain any remaining events and
// then observe the closed state.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Closed reports whether the run has finished publishing.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// End returns the cursor one past the last published event. A listener that
// attaches at End receives only events published afterwards.
func (h *Hub) End() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Snapshot returns a copy of every event published so far.
func (h *Hub) Snapshot() []stream.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]stream.Envelope, len(h.events))
	copy(cp, h.events)
	return cp
}

// Next returns the events at positions cursor and beyond. When none are
// pending it blocks until an event arrives, the hub closes, or the context
// ends. The returned cursor points past the last delivered event; done
// reports that the hub is closed and fully drained.
func (h *Hub) Next(ctx context.Context, cursor int) (events []stream.Envelope, next int, done bool, err error) {
	if cursor < 0 {
		cursor = 0
	}

	cancelWait := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if cursor < len(h.events) {
			pending := make([]stream.Envelope, len(h.events)-cursor)
			copy(pending, h.events[cursor:])
			return pending, len(h.events), false, nil
		}
		if h.closed {
			return nil, cursor, true, nil
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, cursor, false, ctx.Err()
		}
		h.cond.Wait()
	}
}
