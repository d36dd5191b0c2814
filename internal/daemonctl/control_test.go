package daemonctl

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"lectern/internal/config"
)

func TestDeriveLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = "/tmp/lectern-logs"

	if got := DeriveLogDir("/var/lib/lectern/logs/lecternd.lock", "", nil); got != "/var/lib/lectern/logs" {
		t.Fatalf("lock path should win, got %q", got)
	}
	if got := DeriveLogDir("", "/var/lib/lectern/registry.db", nil); got != "/var/lib/lectern" {
		t.Fatalf("registry path should be used, got %q", got)
	}
	if got := DeriveLogDir("", "", &cfg); got != "/tmp/lectern-logs" {
		t.Fatalf("config log dir should be used, got %q", got)
	}
	if got := DeriveLogDir("", "", nil); got != "" {
		t.Fatalf("expected empty dir, got %q", got)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), PIDFilename)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected self-kill refusal, got %v", err)
	}
}

func TestForceKillProcessMissingPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), PIDFilename)
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected error when pid cannot be determined")
	}
}

func TestBuildSystemChecksOffline(t *testing.T) {
	cfg := config.Default()
	cfg.Transcript.BaseURL = ""
	cfg.Analysis.Enabled = false
	cfg.Slides.Enabled = false
	cfg.Notifications.NtfyTopic = ""

	lines := BuildSystemChecks(&cfg, false, "")
	if len(lines) == 0 {
		t.Fatal("expected status lines")
	}
	if lines[0].Label != "Lectern" || lines[0].Severity != "warn" {
		t.Fatalf("unexpected daemon line: %+v", lines[0])
	}

	byLabel := make(map[string]string, len(lines))
	for _, line := range lines {
		byLabel[line.Label] = line.Severity
	}
	for _, label := range []string{"HTTP API", "Transcript API", "Analysis LLM", "Slides", "Notifications"} {
		severity, ok := byLabel[label]
		if !ok {
			t.Fatalf("missing %s line in %+v", label, lines)
		}
		if severity != "info" {
			t.Fatalf("%s severity: expected info for unconfigured feature, got %s", label, severity)
		}
	}
}

func TestBuildSystemChecksRunning(t *testing.T) {
	cfg := config.Default()
	cfg.Transcript.BaseURL = ""
	cfg.Analysis.Enabled = false
	cfg.Slides.Enabled = false
	cfg.Notifications.NtfyTopic = "lectern-alerts"

	lines := BuildSystemChecks(&cfg, true, "127.0.0.1:7519")
	if lines[0].Severity != "ok" || lines[0].Detail != "Running" {
		t.Fatalf("unexpected daemon line: %+v", lines[0])
	}
	if lines[1].Label != "HTTP API" || !strings.Contains(lines[1].Detail, "127.0.0.1:7519") {
		t.Fatalf("unexpected API line: %+v", lines[1])
	}
	last := lines[len(lines)-1]
	if last.Label != "Notifications" || last.Severity != "ok" {
		t.Fatalf("unexpected notifications line: %+v", last)
	}
}

func TestBuildStoragePathChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")
	cfg.Slides.Enabled = false

	lines := BuildStoragePathChecks(&cfg)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines with slides disabled, got %d", len(lines))
	}
	if lines[0].Severity != "ok" {
		t.Fatalf("data dir should pass: %+v", lines[0])
	}
	if lines[1].Severity != "error" {
		t.Fatalf("missing log dir should fail: %+v", lines[1])
	}
}

func TestResolveDependenciesNilConfig(t *testing.T) {
	if deps := ResolveDependencies(nil); deps != nil {
		t.Fatalf("expected nil for nil config, got %+v", deps)
	}
}
