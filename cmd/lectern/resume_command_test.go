package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"lectern/internal/runner"
	"lectern/internal/stream"
)

// releasableSource holds every run open until the test releases it, so a
// second client can attach to the live stream mid-run.
type releasableSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *releasableSource) Source() stream.Source { return stream.SourceTranscript }

func (s *releasableSource) Prepare(context.Context, runner.Request) error { return nil }

func (s *releasableSource) Execute(ctx context.Context, _ runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	em.Progress("fetch", "holding")
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(map[string]string{"transcript": "released"})
}

func (s *releasableSource) HealthCheck(context.Context) runner.Health {
	return runner.Healthy("transcript")
}

func TestResumeNoRuns(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"resume", "lecture-none"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no runs recorded for lecture-none") {
		t.Fatalf("expected no runs error, got %v", err)
	}
	if !strings.Contains(err.Error(), "lectern ingest") {
		t.Fatalf("expected ingest hint, got %v", err)
	}
}

func TestResumeCompletedRun(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-done", "run-token-done")

	out, _, err := runCLI(t, []string{"resume", "lecture-done"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "already completed (version 1)")
	requireContains(t, out, `"transcript": "seeded"`)
}

func TestResumeCompletedRunJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-done", "run-token-done")

	out, _, err := runCLI(t, []string{"resume", "lecture-done", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("resume --json: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if result["state"] != "completed" {
		t.Fatalf("expected state completed, got %v", result["state"])
	}
	if result["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", result["version"])
	}
}

func TestResumeFailedRunSuggestsIngest(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	if _, err := env.store.CreateRun(ctx, "lecture-broken", "run-token-broken", ""); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := env.store.MarkRunning(ctx, "run-token-broken"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := env.store.FailRun(ctx, "run-token-broken", "transcript service down"); err != nil {
		t.Fatalf("fail run: %v", err)
	}

	_, _, err := runCLI(t, []string{"resume", "lecture-broken"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected resume of failed run to error")
	}
	if !strings.Contains(err.Error(), "latest run failed") {
		t.Fatalf("expected failure detail, got %v", err)
	}
	if !strings.Contains(err.Error(), "start a new run") {
		t.Fatalf("expected ingest hint, got %v", err)
	}
}

func TestResumeAttachesToLiveRun(t *testing.T) {
	src := &releasableSource{started: make(chan struct{}), release: make(chan struct{})}
	env := setupCLITestEnv(t, src)

	ingestDone := make(chan error, 1)
	go func() {
		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--socket", env.socketPath, "--config", env.configPath, "ingest", "lecture-live", "--source", "transcript"})
		ingestDone <- cmd.Execute()
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	resumeDone := make(chan error, 1)
	resumeOut := &syncBuffer{}
	go func() {
		cmd := newRootCommand()
		cmd.SetOut(resumeOut)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--socket", env.socketPath, "--config", env.configPath, "resume", "lecture-live"})
		resumeDone <- cmd.Execute()
	}()

	time.Sleep(100 * time.Millisecond)
	close(src.release)

	for _, done := range []chan error{ingestDone, resumeDone} {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("command did not exit")
		}
	}

	requireContains(t, resumeOut.String(), "completed (version 1)")
	requireContains(t, resumeOut.String(), `"transcript": "released"`)
}
