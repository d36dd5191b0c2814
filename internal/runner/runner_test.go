package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/registry"
	"lectern/internal/runner"
	"lectern/internal/stream"
	"lectern/internal/testsupport"
)

type stubSource struct {
	source  stream.Source
	payload json.RawMessage

	prepareErr error
	executeErr error
	block      chan struct{}
	hook       func(ctx context.Context, req runner.Request, em *runner.Emitter)
}

func newStubSource(source stream.Source, payload string) *stubSource {
	return &stubSource{source: source, payload: json.RawMessage(payload)}
}

func (s *stubSource) Source() stream.Source { return s.source }

func (s *stubSource) Prepare(context.Context, runner.Request) error { return s.prepareErr }

func (s *stubSource) Execute(ctx context.Context, req runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	if s.hook != nil {
		s.hook(ctx, req, em)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.executeErr != nil {
		return nil, s.executeErr
	}
	return s.payload, nil
}

func (s *stubSource) HealthCheck(context.Context) runner.Health {
	return runner.Healthy(string(s.source))
}

type stubNotifier struct {
	mu        sync.Mutex
	completed []notifications.Payload
	failed    []notifications.Payload
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch event {
	case notifications.EventRunCompleted:
		s.completed = append(s.completed, payload)
	case notifications.EventRunFailed:
		s.failed = append(s.failed, payload)
	}
	return nil
}

func (s *stubNotifier) TestNotification(context.Context) error { return nil }

func (s *stubNotifier) counts() (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed), len(s.failed)
}

func newTestRunner(t *testing.T, handlers ...runner.SourceRunner) (*runner.Runner, *registry.Store, *stubNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &stubNotifier{}
	r, err := runner.New(cfg, store, logging.NewNop(), notifier, handlers...)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("runner.Start: %v", err)
	}
	t.Cleanup(r.Stop)
	return r, store, notifier
}

func drainHub(t *testing.T, hub *runner.Hub) []stream.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []stream.Envelope
	cursor := 0
	for {
		batch, next, done, err := hub.Next(ctx, cursor)
		if err != nil {
			t.Fatalf("hub.Next: %v", err)
		}
		events = append(events, batch...)
		cursor = next
		if done {
			return events
		}
	}
}

func lastEvent(t *testing.T, events []stream.Envelope) stream.Envelope {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	return events[len(events)-1]
}

func TestRunnerCompletesRun(t *testing.T) {
	source := newStubSource(stream.SourceAnalysis, `{"summary":"a talk about birds"}`)
	source.hook = func(_ context.Context, _ runner.Request, em *runner.Emitter) {
		em.ProgressAt("analyzing", "working through sections", 50)
		if err := em.Partial(map[string]string{"summary": "a talk about birds"}); err != nil {
			t.Errorf("Partial: %v", err)
		}
	}
	r, store, notifier := newTestRunner(t, source)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-42",
		Sources:  []stream.Source{stream.SourceAnalysis},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	events := drainHub(t, handle.Hub())
	terminal := lastEvent(t, events)
	if terminal.Type != stream.EventComplete || terminal.Source != stream.SourceUnified {
		t.Fatalf("expected unified complete terminal, got %s/%s", terminal.Type, terminal.Source)
	}
	if terminal.RunID != handle.RunToken {
		t.Fatalf("terminal run id = %q, want %q", terminal.RunID, handle.RunToken)
	}
	if terminal.Version != 1 {
		t.Fatalf("terminal version = %d, want 1", terminal.Version)
	}

	var sawPartial, sawSourceComplete bool
	for _, env := range events {
		if env.Type == stream.EventPartial && env.Source == stream.SourceAnalysis {
			sawPartial = true
		}
		if env.Type == stream.EventComplete && env.Source == stream.SourceAnalysis {
			sawSourceComplete = true
		}
	}
	if !sawPartial || !sawSourceComplete {
		t.Fatalf("expected analysis partial and complete events, got %+v", events)
	}

	run, err := store.LatestRun(context.Background(), "talk-42")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.Status != registry.StatusCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.Version != 1 {
		t.Fatalf("run version = %d, want 1", run.Version)
	}

	var artifact map[string]string
	if err := json.Unmarshal([]byte(run.ResultJSON), &artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact["summary"] != "a talk about birds" {
		t.Fatalf("artifact summary = %q", artifact["summary"])
	}

	completed, failed := notifier.counts()
	if completed != 1 || failed != 0 {
		t.Fatalf("notifications completed=%d failed=%d, want 1/0", completed, failed)
	}
}

func TestRunnerMergesMultiSourceArtifact(t *testing.T) {
	transcript := newStubSource(stream.SourceTranscript, `{"transcript":{"language":"en"}}`)
	analysis := newStubSource(stream.SourceAnalysis, `{"summary":"short"}`)
	r, store, _ := newTestRunner(t, transcript, analysis)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-7",
		Sources:  []stream.Source{stream.SourceAnalysis, stream.SourceTranscript},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	terminal := lastEvent(t, drainHub(t, handle.Hub()))
	var artifact map[string]json.RawMessage
	if err := json.Unmarshal(terminal.Data, &artifact); err != nil {
		t.Fatalf("decode terminal data: %v", err)
	}
	if _, ok := artifact["transcript"]; !ok {
		t.Fatal("artifact missing transcript key")
	}
	if _, ok := artifact["summary"]; !ok {
		t.Fatal("artifact missing summary key")
	}

	run, err := store.LatestRun(context.Background(), "talk-7")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ResultJSON == "" {
		t.Fatal("expected persisted artifact")
	}
	if string(terminal.Data) != run.ResultJSON {
		t.Fatalf("terminal data %s differs from persisted artifact %s", terminal.Data, run.ResultJSON)
	}
}

func TestRunnerRejectsOverlappingStart(t *testing.T) {
	source := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	source.block = make(chan struct{})
	r, _, _ := newTestRunner(t, source)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-busy",
		Sources:  []stream.Source{stream.SourceTranscript},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	_, err = r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-busy",
		Sources:  []stream.Source{stream.SourceTranscript},
	})
	if !errors.Is(err, registry.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}

	close(source.block)
	drainHub(t, handle.Hub())
}

func TestRunnerSupersedesActiveRun(t *testing.T) {
	first := newStubSource(stream.SourceTranscript, `{"transcript":{"take":1}}`)
	first.block = make(chan struct{})
	r, store, _ := newTestRunner(t, first)

	firstHandle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-9",
		Sources:  []stream.Source{stream.SourceTranscript},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	secondHandle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID:  "talk-9",
		Sources:   []stream.Source{stream.SourceTranscript},
		Supersede: true,
	})
	if err != nil {
		t.Fatalf("StartRun with supersede: %v", err)
	}
	if secondHandle.RunToken == firstHandle.RunToken {
		t.Fatal("superseding run reused the old token")
	}

	firstEvents := drainHub(t, firstHandle.Hub())
	terminal := lastEvent(t, firstEvents)
	if terminal.Type != stream.EventError || terminal.Source != stream.SourceUnified {
		t.Fatalf("expected unified error terminal on superseded run, got %s/%s", terminal.Type, terminal.Source)
	}
	if terminal.Message != registry.SupersededReason {
		t.Fatalf("superseded terminal message = %q", terminal.Message)
	}

	superseded, err := store.RunByToken(context.Background(), firstHandle.RunToken)
	if err != nil {
		t.Fatalf("RunByToken: %v", err)
	}
	if superseded.Status != registry.StatusFailed {
		t.Fatalf("superseded run status = %s, want failed", superseded.Status)
	}
	if superseded.ErrorMessage != registry.SupersededReason {
		t.Fatalf("superseded run error = %q", superseded.ErrorMessage)
	}

	secondTerminal := lastEvent(t, drainHub(t, secondHandle.Hub()))
	if secondTerminal.Type != stream.EventComplete {
		t.Fatalf("second run terminal = %s, want complete", secondTerminal.Type)
	}
	if secondTerminal.Version != 1 {
		t.Fatalf("second run version = %d, want 1", secondTerminal.Version)
	}
}

func TestRunnerFailsRunWhenSourceFails(t *testing.T) {
	failing := newStubSource(stream.SourceAnalysis, "")
	failing.executeErr = errors.New("model rejected the request")
	slow := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	slow.block = make(chan struct{})
	r, store, notifier := newTestRunner(t, failing, slow)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-err",
		Sources:  []stream.Source{stream.SourceTranscript, stream.SourceAnalysis},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	events := drainHub(t, handle.Hub())
	terminal := lastEvent(t, events)
	if terminal.Type != stream.EventError || terminal.Source != stream.SourceUnified {
		t.Fatalf("expected unified error terminal, got %s/%s", terminal.Type, terminal.Source)
	}
	if terminal.Message != "model rejected the request" {
		t.Fatalf("terminal message = %q", terminal.Message)
	}

	// Every opened source gets exactly one terminal even on failure.
	tracker := stream.NewTracker()
	for _, env := range events {
		if err := tracker.Observe(env); err != nil {
			t.Fatalf("terminal exclusivity violated: %v", err)
		}
	}
	if !tracker.Terminated(stream.SourceTranscript) || !tracker.Terminated(stream.SourceAnalysis) {
		t.Fatal("expected both sources to be terminated")
	}

	run, err := store.LatestRun(context.Background(), "talk-err")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.Status != registry.StatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.Version != 0 {
		t.Fatalf("failed run version = %d, want 0", run.Version)
	}

	completed, failed := notifier.counts()
	if completed != 0 || failed != 1 {
		t.Fatalf("notifications completed=%d failed=%d, want 0/1", completed, failed)
	}
}

func TestRunnerStopFailsActiveRuns(t *testing.T) {
	source := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	source.block = make(chan struct{})

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	r, err := runner.New(cfg, store, logging.NewNop(), &stubNotifier{}, source)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("runner.Start: %v", err)
	}

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-stop",
		Sources:  []stream.Source{stream.SourceTranscript},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	r.Stop()

	terminal := lastEvent(t, drainHub(t, handle.Hub()))
	if terminal.Type != stream.EventError || terminal.Message != registry.DaemonStopReason {
		t.Fatalf("expected daemon stop terminal, got %s %q", terminal.Type, terminal.Message)
	}

	run, err := store.LatestRun(context.Background(), "talk-stop")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.Status != registry.StatusFailed || run.ErrorMessage != registry.DaemonStopReason {
		t.Fatalf("run status=%s error=%q, want failed/%q", run.Status, run.ErrorMessage, registry.DaemonStopReason)
	}

	if _, err := r.StartRun(context.Background(), runner.StartRequest{EntityID: "talk-after"}); !errors.Is(err, runner.ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestRunnerEnforcesCapacity(t *testing.T) {
	source := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	source.block = make(chan struct{})

	cfg := testsupport.NewConfig(t)
	cfg.Runner.MaxConcurrentRuns = 1
	store := testsupport.MustOpenStore(t, cfg)
	r, err := runner.New(cfg, store, logging.NewNop(), &stubNotifier{}, source)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("runner.Start: %v", err)
	}
	t.Cleanup(r.Stop)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-a",
		Sources:  []stream.Source{stream.SourceTranscript},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if _, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-b",
		Sources:  []stream.Source{stream.SourceTranscript},
	}); !errors.Is(err, runner.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}

	close(source.block)
	drainHub(t, handle.Hub())
}

func TestRunnerVersionsIncrementAcrossRuns(t *testing.T) {
	source := newStubSource(stream.SourceAnalysis, `{"summary":"one"}`)
	r, _, _ := newTestRunner(t, source)

	for want := int64(1); want <= 3; want++ {
		handle, err := r.StartRun(context.Background(), runner.StartRequest{
			EntityID: "talk-versioned",
			Sources:  []stream.Source{stream.SourceAnalysis},
		})
		if err != nil {
			t.Fatalf("StartRun #%d: %v", want, err)
		}
		terminal := lastEvent(t, drainHub(t, handle.Hub()))
		if terminal.Version != want {
			t.Fatalf("run #%d version = %d", want, terminal.Version)
		}
	}
}

func TestRunnerRejectsUnknownSource(t *testing.T) {
	source := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	r, _, _ := newTestRunner(t, source)

	if _, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-x",
		Sources:  []stream.Source{stream.Source("captions")},
	}); err == nil {
		t.Fatal("expected error for unknown source")
	}

	if _, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-x",
		Sources:  []stream.Source{stream.SourceAnalysis},
	}); err == nil {
		t.Fatal("expected error for source without a handler")
	}
}

func TestRunnerRejectsInvalidEntityID(t *testing.T) {
	source := newStubSource(stream.SourceTranscript, `{"transcript":{}}`)
	r, _, _ := newTestRunner(t, source)

	if _, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "bad id with spaces",
	}); !errors.Is(err, registry.ErrInvalidEntityID) {
		t.Fatalf("expected ErrInvalidEntityID, got %v", err)
	}
}

func TestRunnerLiveTailAttachSkipsHistory(t *testing.T) {
	source := newStubSource(stream.SourceAnalysis, `{"summary":"tail"}`)
	emitted := make(chan struct{})
	source.block = make(chan struct{})
	source.hook = func(_ context.Context, _ runner.Request, em *runner.Emitter) {
		em.ProgressAt("analyzing", "early progress", 10)
		close(emitted)
	}
	r, _, _ := newTestRunner(t, source)

	handle, err := r.StartRun(context.Background(), runner.StartRequest{
		EntityID: "talk-tail",
		Sources:  []stream.Source{stream.SourceAnalysis},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-emitted

	attached, ok := r.Lookup("talk-tail")
	if !ok {
		t.Fatal("expected live run")
	}
	if attached.RunToken != handle.RunToken {
		t.Fatalf("Lookup token = %q, want %q", attached.RunToken, handle.RunToken)
	}
	cursor := attached.Hub().End()
	close(source.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var tail []stream.Envelope
	for {
		batch, next, done, err := attached.Hub().Next(ctx, cursor)
		if err != nil {
			t.Fatalf("hub.Next: %v", err)
		}
		tail = append(tail, batch...)
		cursor = next
		if done {
			break
		}
	}

	for _, env := range tail {
		if env.Type == stream.EventProgress && env.Message == "early progress" {
			t.Fatal("live tail replayed history")
		}
	}
	terminal := lastEvent(t, tail)
	if terminal.Type != stream.EventComplete || terminal.Source != stream.SourceUnified {
		t.Fatalf("tail missing unified terminal, got %s/%s", terminal.Type, terminal.Source)
	}
}
