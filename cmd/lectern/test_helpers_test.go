package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/ipc"
	"lectern/internal/logging"
	"lectern/internal/registry"
	"lectern/internal/runner"
	"lectern/internal/stream"
	"lectern/internal/testsupport"
)

type fakeTranscriptSource struct{}

func (fakeTranscriptSource) Source() stream.Source { return stream.SourceTranscript }

func (fakeTranscriptSource) Prepare(context.Context, runner.Request) error { return nil }

func (fakeTranscriptSource) Execute(_ context.Context, req runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	em.ProgressAt("fetch", "fetching transcript", 50)
	fragment := map[string]string{"transcript": "hello from " + req.EntityID}
	if err := em.Partial(fragment); err != nil {
		return nil, err
	}
	return json.Marshal(fragment)
}

func (fakeTranscriptSource) HealthCheck(context.Context) runner.Health {
	return runner.Healthy("transcript")
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *registry.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	hub        *logging.StreamHub
	logger     *slog.Logger
	socketPath string
	configPath string
	baseDir    string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T, handlers ...runner.SourceRunner) *cliTestEnv {
	t.Helper()
	return setupCLITestEnvWith(t, nil, handlers...)
}

// setupCLITestEnvWith starts a real daemon with a live IPC socket and HTTP
// API on an ephemeral port. mutate adjusts the config before the daemon is
// constructed; handlers default to the fake transcript source.
func setupCLITestEnvWith(t *testing.T, mutate func(*config.Config), handlers ...runner.SourceRunner) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "lectern-test.log")
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatalf("create log file: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "lectern", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)

	hub := logging.NewStreamHub(256)
	logger, err := logging.New(logging.Options{
		Level:            "debug",
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
		Stream:           hub,
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	if len(handlers) == 0 {
		handlers = []runner.SourceRunner{fakeTranscriptSource{}}
	}
	run, err := runner.New(cfg, store, logger, nil, handlers...)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}

	d, err := daemon.New(cfg, store, logger, run, logPath, hub, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		server:     srv,
		hub:        hub,
		logger:     logger,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// seedCompletedRun records a finished run directly in the registry so list
// and resume commands have history without driving the runner.
func seedCompletedRun(t *testing.T, store *registry.Store, entityID, runToken string) *registry.Run {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateRun(ctx, entityID, runToken, `{"sources":["transcript"]}`); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := store.MarkRunning(ctx, runToken); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	run, err := store.CompleteRun(ctx, runToken, `{"transcript":"seeded"}`)
	if err != nil {
		t.Fatalf("complete run: %v", err)
	}
	return run
}

// syncBuffer is a thread-safe bytes.Buffer for commands that write from a
// goroutine while the test polls the output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
