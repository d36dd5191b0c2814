package client

import (
	"encoding/json"
	"errors"
	"testing"

	"lectern/internal/stream"
)

// countingHandler records one count per event type method.
type countingHandler struct {
	calls map[stream.EventType]int
	last  stream.Envelope
}

func newCountingHandler() *countingHandler {
	return &countingHandler{calls: make(map[stream.EventType]int)}
}

func (h *countingHandler) OnProgress(env stream.Envelope) { h.record(stream.EventProgress, env) }
func (h *countingHandler) OnPartial(env stream.Envelope)  { h.record(stream.EventPartial, env) }
func (h *countingHandler) OnResult(env stream.Envelope)   { h.record(stream.EventResult, env) }
func (h *countingHandler) OnSlide(env stream.Envelope)    { h.record(stream.EventSlide, env) }
func (h *countingHandler) OnComplete(env stream.Envelope) { h.record(stream.EventComplete, env) }
func (h *countingHandler) OnError(env stream.Envelope)    { h.record(stream.EventError, env) }

func (h *countingHandler) record(t stream.EventType, env stream.Envelope) {
	h.calls[t]++
	h.last = env
}

func (h *countingHandler) total() int {
	sum := 0
	for _, n := range h.calls {
		sum += n
	}
	return sum
}

func fullRoutes(handler SourceHandler) map[stream.Source]SourceHandler {
	routes := make(map[stream.Source]SourceHandler)
	for _, source := range stream.Sources() {
		routes[source] = handler
	}
	return routes
}

func TestNewDispatcherRequiresEverySource(t *testing.T) {
	handler := newCountingHandler()
	routes := fullRoutes(handler)
	delete(routes, stream.SourceSlides)
	if _, err := NewDispatcher(routes); err == nil {
		t.Fatal("expected construction to fail with a missing source")
	}
}

func TestNewDispatcherRejectsUnknownSource(t *testing.T) {
	routes := fullRoutes(newCountingHandler())
	routes[stream.Source("bogus")] = newCountingHandler()
	if _, err := NewDispatcher(routes); err == nil {
		t.Fatal("expected construction to fail with an unknown source")
	}
}

func TestDispatcherRoutesEveryPairExactlyOnce(t *testing.T) {
	sample := func(eventType stream.EventType, source stream.Source) stream.Envelope {
		switch eventType {
		case stream.EventProgress:
			return stream.NewProgress(source, "working", "busy")
		case stream.EventPartial:
			return stream.NewPartial(source, json.RawMessage(`{"k":"v"}`))
		case stream.EventResult:
			return stream.NewResult(source, json.RawMessage(`{"k":"v"}`))
		case stream.EventSlide:
			return stream.NewSlide(source, stream.Slide{Index: 1, Image: "s.png"})
		case stream.EventComplete:
			return stream.NewComplete(source, "tok", 0, nil)
		default:
			return stream.NewError(source, "boom")
		}
	}

	for _, source := range stream.Sources() {
		for _, eventType := range stream.EventTypes() {
			handler := newCountingHandler()
			dispatcher, err := NewDispatcher(fullRoutes(handler))
			if err != nil {
				t.Fatalf("dispatcher: %v", err)
			}
			if err := dispatcher.Dispatch(sample(eventType, source)); err != nil {
				t.Fatalf("dispatch %s/%s: %v", eventType, source, err)
			}
			if handler.total() != 1 || handler.calls[eventType] != 1 {
				t.Fatalf("expected exactly one %s call for source %s, got %v", eventType, source, handler.calls)
			}
		}
	}
}

func TestDispatcherSmoothsProgressRegression(t *testing.T) {
	handler := newCountingHandler()
	dispatcher, err := NewDispatcher(fullRoutes(handler))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if err := dispatcher.Dispatch(stream.NewProgressAt(stream.SourceAnalysis, "work", "", 50)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := dispatcher.Dispatch(stream.NewProgressAt(stream.SourceAnalysis, "work", "", 30)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if handler.last.Progress == nil || *handler.last.Progress != 50 {
		t.Fatalf("expected regression smoothed to 50, got %v", handler.last.Progress)
	}

	// Other sources track their own maximum.
	if err := dispatcher.Dispatch(stream.NewProgressAt(stream.SourceSlides, "scan", "", 10)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if handler.last.Progress == nil || *handler.last.Progress != 10 {
		t.Fatalf("expected independent per-source progress, got %v", handler.last.Progress)
	}
}

func TestDispatcherRejectsInvalidEnvelope(t *testing.T) {
	dispatcher, err := NewDispatcher(fullRoutes(newCountingHandler()))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	err = dispatcher.Dispatch(stream.Envelope{Type: "mystery", Source: stream.SourceAnalysis})
	var protoErr *stream.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}
