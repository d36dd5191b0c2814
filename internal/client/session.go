package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"lectern/internal/logging"
	"lectern/internal/registry"
	"lectern/internal/stream"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Client   *Client
	EntityID string
	Logger   *slog.Logger
	// Observer, when set, receives every envelope after session state has
	// been updated. Called from the read-loop goroutine.
	Observer func(stream.Envelope)
}

// SourceProgress is the latest observed progress for one source.
type SourceProgress struct {
	Phase      string
	Message    string
	Percent    float64
	HasPercent bool
	Done       bool
	Failed     bool
	Error      string
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State    State
	RunID    string
	Version  int64
	Error    string
	Sections map[string]json.RawMessage
	Slides   []stream.Slide
	Progress map[stream.Source]SourceProgress
}

// Session owns one entity's client-side view of its runs: the lifecycle
// state machine, the result accumulator, collected slides, and the single
// active listening connection. Aborting the listener never touches the
// server-side run.
type Session struct {
	client   *Client
	entityID string
	logger   *slog.Logger
	observer func(stream.Envelope)

	mu       sync.Mutex
	state    State
	runID    string
	version  int64
	errText  string
	acc      *Accumulator
	slides   []stream.Slide
	progress map[stream.Source]SourceProgress
	listener *listener
}

// listener is one streaming connection plus the goroutine consuming it.
type listener struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stream  *Stream
	done    chan struct{}
	aborted atomic.Bool
}

func (l *listener) abort() {
	l.aborted.Store(true)
	l.cancel()
	_ = l.stream.Close()
}

// NewSession builds an idle session for one entity.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("session requires a client")
	}
	if strings.TrimSpace(opts.EntityID) == "" {
		return nil, errors.New("session requires an entity id")
	}
	logger := logging.NewComponentLogger(opts.Logger, "client")
	return &Session{
		client:   opts.Client,
		entityID: opts.EntityID,
		logger:   logger.With(logging.String(logging.FieldEntityID, opts.EntityID)),
		observer: opts.Observer,
		state:    StateIdle,
		acc:      NewAccumulator(),
		progress: make(map[stream.Source]SourceProgress),
	}, nil
}

// Init primes the session from the entity's registry snapshot without
// attaching a stream. An entity whose latest run completed jumps straight to
// completed with the durable artifact loaded.
func (s *Session) Init(ctx context.Context) error {
	status, err := s.client.Status(ctx, s.entityID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = status.Version
	if len(status.Result) > 0 && string(status.Result) != "null" {
		if err := s.acc.Replace(status.Result); err != nil {
			return err
		}
	}
	switch status.Status {
	case string(registry.StatusCompleted):
		s.state = StateCompleted
		s.runID = status.RunID
	case string(registry.StatusFailed):
		s.state = StateError
		s.runID = status.RunID
		s.errText = status.ErrorMessage
	default:
		s.state = StateIdle
	}
	return nil
}

// Start severs any active listener, clears the accumulated view, and begins
// a fresh run. From completed or error it is a reroll: new run, new version.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.sever()

	s.mu.Lock()
	s.state = StateStarting
	s.errText = ""
	s.runID = ""
	s.slides = nil
	s.progress = make(map[stream.Source]SourceProgress)
	s.acc.Reset()
	s.mu.Unlock()

	lctx, cancel := context.WithCancel(ctx)
	str, err := s.client.StartRun(lctx, s.entityID, opts)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			// Aborted before the stream opened, stay silent.
			return ctx.Err()
		}
		s.mu.Lock()
		s.state = StateError
		s.errText = err.Error()
		s.mu.Unlock()
		return err
	}

	s.logger.Info("run started", logging.String(logging.FieldRunID, str.RunID))
	s.attach(lctx, cancel, str)
	return nil
}

// Resume reattaches to the entity's latest run. A registry-completed run
// lands in completed without ever streaming; an in-flight run attaches to
// its live tail. ErrNoRuns and ErrNotResumable pass through for the caller
// to decide what to do next.
func (s *Session) Resume(ctx context.Context) error {
	s.sever()

	s.mu.Lock()
	s.state = StateStarting
	s.errText = ""
	s.mu.Unlock()

	lctx, cancel := context.WithCancel(ctx)
	resumed, err := s.client.ResumeRun(lctx, s.entityID)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		if errors.Is(err, ErrNoRuns) {
			s.state = StateIdle
		} else {
			s.state = StateError
			s.errText = err.Error()
		}
		s.mu.Unlock()
		return err
	}

	if resumed.Completed != nil {
		cancel()
		snapshot := resumed.Completed
		if len(snapshot.Result) > 0 && string(snapshot.Result) != "null" {
			if err := s.acc.Replace(snapshot.Result); err != nil {
				s.mu.Lock()
				s.state = StateError
				s.errText = err.Error()
				s.mu.Unlock()
				return err
			}
		}
		s.mu.Lock()
		s.state = StateCompleted
		s.runID = snapshot.RunID
		s.version = snapshot.Version
		s.mu.Unlock()
		s.logger.Info("run already completed",
			logging.String(logging.FieldRunID, snapshot.RunID),
			logging.Int64("version", snapshot.Version))
		return nil
	}

	s.logger.Info("reattached to run", logging.String(logging.FieldRunID, resumed.Stream.RunID))
	s.attach(lctx, cancel, resumed.Stream)
	return nil
}

// Close aborts the active listener, if any, and waits for its goroutine to
// exit. The server-side run keeps executing.
func (s *Session) Close() {
	s.sever()
}

// Wait blocks until the active listener finishes or ctx is done, then
// reports the session state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return s.State(), nil
	}
	select {
	case <-ctx.Done():
		return s.State(), ctx.Err()
	case <-l.done:
		return s.State(), nil
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunID returns the wire run id of the session's current run, if known.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Version returns the latest version the session has observed.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Err returns the surfaced failure message, empty outside the error state.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}

// Sections returns a copy of the accumulated result view.
func (s *Session) Sections() map[string]json.RawMessage {
	return s.acc.Snapshot()
}

// Result marshals the accumulated result view as one object.
func (s *Session) Result() json.RawMessage {
	return s.acc.JSON()
}

// Slides returns the slides collected so far, in arrival order.
func (s *Session) Slides() []stream.Slide {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]stream.Slide, len(s.slides))
	copy(cp, s.slides)
	return cp
}

// SnapshotView returns a point-in-time copy of the whole session.
func (s *Session) SnapshotView() Snapshot {
	sections := s.acc.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	progress := make(map[stream.Source]SourceProgress, len(s.progress))
	for source, p := range s.progress {
		progress[source] = p
	}
	slides := make([]stream.Slide, len(s.slides))
	copy(slides, s.slides)
	return Snapshot{
		State:    s.state,
		RunID:    s.runID,
		Version:  s.version,
		Error:    s.errText,
		Sections: sections,
		Slides:   slides,
		Progress: progress,
	}
}

func (s *Session) sever() {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l == nil {
		return
	}
	l.abort()
	<-l.done
}

func (s *Session) attach(ctx context.Context, cancel context.CancelFunc, str *Stream) {
	l := &listener{ctx: ctx, cancel: cancel, stream: str, done: make(chan struct{})}
	s.mu.Lock()
	s.runID = str.RunID
	s.listener = l
	s.mu.Unlock()
	go s.consume(l)
}

func (s *Session) consume(l *listener) {
	defer close(l.done)
	defer l.stream.Close()

	handler := &sessionHandler{session: s}
	dispatcher, err := NewDispatcher(sessionRoutes(handler))
	if err != nil {
		s.fail(err.Error())
		return
	}

	tracker := stream.NewTracker()
	for {
		env, err := l.stream.Next()
		if err != nil {
			s.finishRead(l, tracker, err)
			return
		}
		if err := tracker.Observe(env); err != nil {
			s.fail(err.Error())
			return
		}
		if err := dispatcher.Dispatch(env); err != nil {
			s.fail(err.Error())
			return
		}
		if handler.violation != nil {
			s.fail(handler.violation.Error())
			return
		}
		s.notify(env)
		if env.Source == stream.SourceUnified && env.Type.IsTerminal() {
			return
		}
	}
}

// finishRead classifies the end of a stream. Local aborts are silent;
// everything else moves the session to error.
func (s *Session) finishRead(l *listener, tracker *stream.Tracker, err error) {
	if l.aborted.Load() || l.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	var protoErr *stream.ProtocolError
	if errors.As(err, &protoErr) {
		s.fail(protoErr.Error())
		return
	}
	if errors.Is(err, io.EOF) {
		if open := tracker.Open(); len(open) > 0 {
			s.fail(fmt.Sprintf("stream ended before sources finished: %s", joinSources(open)))
		} else {
			s.fail("stream ended before the run finished")
		}
		return
	}
	s.fail("stream read failed: " + err.Error())
}

// fail moves the session to error, preserving the accumulated sections and
// slides received so far.
func (s *Session) fail(message string) {
	s.mu.Lock()
	s.state = StateError
	s.errText = message
	runID := s.runID
	s.mu.Unlock()
	s.logger.Warn("session stream failed",
		logging.String(logging.FieldRunID, runID),
		logging.String("detail", message))
}

func (s *Session) notify(env stream.Envelope) {
	if s.observer != nil {
		s.observer(env)
	}
}

func (s *Session) enterStreamingLocked() {
	if s.state == StateStarting {
		s.state = StateStreaming
	}
}

func (s *Session) applyProgress(env stream.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enterStreamingLocked()
	p := s.progress[env.Source]
	p.Phase = env.Phase
	p.Message = env.Message
	if env.Progress != nil {
		p.Percent = *env.Progress
		p.HasPercent = true
	}
	s.progress[env.Source] = p
}

func (s *Session) applyPartial(env stream.Envelope) error {
	s.mu.Lock()
	s.enterStreamingLocked()
	s.mu.Unlock()
	return s.acc.Apply(env.Data)
}

func (s *Session) applyResult(env stream.Envelope) error {
	s.mu.Lock()
	s.enterStreamingLocked()
	s.mu.Unlock()
	return s.acc.Replace(env.Data)
}

func (s *Session) applySlide(env stream.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enterStreamingLocked()
	s.slides = append(s.slides, *env.Slide)
}

func (s *Session) applyComplete(env stream.Envelope) error {
	if env.Source == stream.SourceUnified {
		if len(env.Data) > 0 {
			if err := s.acc.Replace(env.Data); err != nil {
				return err
			}
		}
		s.mu.Lock()
		s.state = StateCompleted
		s.runID = env.RunID
		s.version = env.Version
		s.mu.Unlock()
		s.logger.Info("run completed",
			logging.String(logging.FieldRunID, env.RunID),
			logging.Int64("version", env.Version))
		return nil
	}

	if len(env.Data) > 0 {
		if err := s.acc.Apply(env.Data); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress[env.Source]
	p.Done = true
	s.progress[env.Source] = p
	return nil
}

func (s *Session) applyError(env stream.Envelope) {
	if env.Source == stream.SourceUnified {
		s.mu.Lock()
		s.state = StateError
		s.errText = env.Message
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress[env.Source]
	p.Failed = true
	p.Error = env.Message
	s.progress[env.Source] = p
}

// sessionHandler adapts the session to the dispatcher's per-type interface.
// Payload errors are protocol violations; the read loop picks them up after
// each dispatch.
type sessionHandler struct {
	session   *Session
	violation *stream.ProtocolError
}

func sessionRoutes(handler *sessionHandler) map[stream.Source]SourceHandler {
	routes := make(map[stream.Source]SourceHandler)
	for _, source := range stream.Sources() {
		routes[source] = handler
	}
	return routes
}

func (h *sessionHandler) OnProgress(env stream.Envelope) { h.session.applyProgress(env) }

func (h *sessionHandler) OnPartial(env stream.Envelope) { h.keep(h.session.applyPartial(env)) }

func (h *sessionHandler) OnResult(env stream.Envelope) { h.keep(h.session.applyResult(env)) }

func (h *sessionHandler) OnSlide(env stream.Envelope) { h.session.applySlide(env) }

func (h *sessionHandler) OnComplete(env stream.Envelope) { h.keep(h.session.applyComplete(env)) }

func (h *sessionHandler) OnError(env stream.Envelope) { h.session.applyError(env) }

func (h *sessionHandler) keep(err error) {
	if err == nil || h.violation != nil {
		return
	}
	var protoErr *stream.ProtocolError
	if errors.As(err, &protoErr) {
		h.violation = protoErr
		return
	}
	h.violation = stream.Violation("%v", err)
}

func joinSources(sources []stream.Source) string {
	names := make([]string, 0, len(sources))
	for _, source := range sources {
		names = append(names, string(source))
	}
	return strings.Join(names, ", ")
}
