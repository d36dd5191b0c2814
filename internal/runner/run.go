package runner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lectern/internal/stream"
)

// runState tracks one in-flight run owned by the Runner.
type runState struct {
	entityID string
	token    string
	sources  []stream.Source
	options  json.RawMessage
	started  time.Time

	hub      *Hub
	exchange *Exchange
	cancel   context.CancelFunc
	done     chan struct{}

	mu         sync.Mutex
	superseded bool
}

// supersede cancels the run on behalf of a newer start request. The
// coordinator records the superseded reason instead of a generic
// cancellation message.
func (s *runState) supersede() {
	s.mu.Lock()
	s.superseded = true
	s.mu.Unlock()
	s.cancel()
}

func (s *runState) wasSuperseded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}

func (s *runState) request() Request {
	return Request{
		EntityID: s.entityID,
		RunToken: s.token,
		Sources:  s.sources,
		Options:  s.options,
		Exchange: s.exchange,
	}
}

func (s *runState) handle() *Handle {
	return &Handle{
		EntityID: s.entityID,
		RunToken: s.token,
		Sources:  append([]stream.Source(nil), s.sources...),
		Started:  s.started,
		hub:      s.hub,
	}
}

// Handle exposes a live run to stream listeners.
type Handle struct {
	EntityID string
	RunToken string
	Sources  []stream.Source
	Started  time.Time

	hub *Hub
}

// Hub returns the run's event hub.
func (h *Handle) Hub() *Hub {
	return h.hub
}
