package daemon_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/logging"
	"lectern/internal/registry"
	"lectern/internal/runner"
	"lectern/internal/stream"
	"lectern/internal/testsupport"
)

type noopSource struct{}

func (noopSource) Source() stream.Source { return stream.SourceTranscript }

func (noopSource) Prepare(context.Context, runner.Request) error { return nil }

func (noopSource) Execute(context.Context, runner.Request, *runner.Emitter) (json.RawMessage, error) {
	return json.RawMessage(`{"transcript":{}}`), nil
}

func (noopSource) HealthCheck(context.Context) runner.Health {
	return runner.Healthy("noop")
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *registry.Store) {
	t.Helper()
	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	logger := logging.NewNop()
	run, err := runner.New(cfg, store, logger, nil, noopSource{})
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	d, err := daemon.New(cfg, store, logger, run, "", logging.NewStreamHub(64), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, store
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Runner.DefaultSources = []string{"transcript"}
	return cfg
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.PID <= 0 {
		t.Fatal("expected daemon pid in status")
	}
	if status.APIBind == "" {
		t.Fatal("expected bound api address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSecondInstanceBlocked(t *testing.T) {
	cfg := testConfig(t)
	first, _ := newDaemon(t, cfg)
	second, _ := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer first.Stop()

	err := second.Start(ctx)
	if err == nil {
		second.Stop()
		t.Fatal("expected second instance to be rejected")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDaemonTestNotification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifications.NtfyTopic = ""
	d, _ := newDaemon(t, cfg)

	sent, detail, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent {
		t.Fatal("expected no notification without a topic")
	}
	if !strings.Contains(detail, "not configured") {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestDaemonListRunsAndStats(t *testing.T) {
	cfg := testConfig(t)
	d, store := newDaemon(t, cfg)
	ctx := context.Background()

	if _, err := store.CreateRun(ctx, "vid-1", "tok-1", "{}"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := store.CompleteRun(ctx, "tok-1", `{"transcript":{}}`); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if _, err := store.CreateRun(ctx, "vid-2", "tok-2", "{}"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := store.FailRun(ctx, "tok-2", "boom"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}

	runs, err := d.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}

	runs, err = d.ListRuns(ctx, "vid-1", 0)
	if err != nil {
		t.Fatalf("ListRuns filtered: %v", err)
	}
	if len(runs) != 1 || runs[0].EntityID != "vid-1" {
		t.Fatalf("unexpected filtered runs: %#v", runs)
	}
	if runs[0].Version != 1 {
		t.Fatalf("expected version 1, got %d", runs[0].Version)
	}

	stats, err := d.RunStats(ctx)
	if err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	if stats[string(registry.StatusCompleted)] != 1 || stats[string(registry.StatusFailed)] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
