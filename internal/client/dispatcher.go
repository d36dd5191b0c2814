package client

import (
	"fmt"

	"lectern/internal/stream"
)

// SourceHandler consumes one source's events. One method per event type, so
// a new type cannot be added without every handler taking a position on it.
// Handlers run on the session's read-loop goroutine.
type SourceHandler interface {
	OnProgress(stream.Envelope)
	OnPartial(stream.Envelope)
	OnResult(stream.Envelope)
	OnSlide(stream.Envelope)
	OnComplete(stream.Envelope)
	OnError(stream.Envelope)
}

// Dispatcher routes envelopes over the closed source set. It also smooths
// progress regressions per source by taking the max value seen, matching the
// server-side emitter clamp without trusting it.
type Dispatcher struct {
	handlers map[stream.Source]SourceHandler
	maxPct   map[stream.Source]float64
}

// NewDispatcher wires one handler per known source, including unified.
// Construction fails when any source lacks a handler or an unknown source is
// supplied; routing gaps surface here instead of mid-stream.
func NewDispatcher(handlers map[stream.Source]SourceHandler) (*Dispatcher, error) {
	for source := range handlers {
		if !stream.KnownSource(source) {
			return nil, fmt.Errorf("dispatcher: unknown source %q", source)
		}
	}
	routed := make(map[stream.Source]SourceHandler, len(handlers))
	for _, source := range stream.Sources() {
		handler, ok := handlers[source]
		if !ok || handler == nil {
			return nil, fmt.Errorf("dispatcher: no handler for source %q", source)
		}
		routed[source] = handler
	}
	return &Dispatcher{
		handlers: routed,
		maxPct:   make(map[stream.Source]float64),
	}, nil
}

// Dispatch validates and routes one envelope. A non-nil error is always a
// *stream.ProtocolError.
func (d *Dispatcher) Dispatch(env stream.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	handler, ok := d.handlers[env.Source]
	if !ok {
		return stream.Violation("no route for source %q", env.Source)
	}

	switch env.Type {
	case stream.EventProgress:
		if env.Progress != nil {
			pct := *env.Progress
			if prev, seen := d.maxPct[env.Source]; seen && prev > pct {
				pct = prev
			}
			d.maxPct[env.Source] = pct
			env.Progress = &pct
		}
		handler.OnProgress(env)
	case stream.EventPartial:
		handler.OnPartial(env)
	case stream.EventResult:
		handler.OnResult(env)
	case stream.EventSlide:
		handler.OnSlide(env)
	case stream.EventComplete:
		handler.OnComplete(env)
	case stream.EventError:
		handler.OnError(env)
	default:
		return stream.Violation("no route for event type %q", env.Type)
	}
	return nil
}
