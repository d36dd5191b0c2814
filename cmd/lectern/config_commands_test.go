package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lectern/internal/config"
)

func TestConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnvWith(t, func(cfg *config.Config) {
		cfg.LLM.APIKey = "sk-or-sekret-value"
	})

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "# config: "+env.configPath)
	requireContains(t, out, "(redacted)")
	if strings.Contains(out, "sk-or-sekret-value") {
		t.Fatalf("expected secret to be redacted, got:\n%s", out)
	}
}

func TestConfigShowMissingFileShowsDefaults(t *testing.T) {
	env := setupCLITestEnv(t)
	// Defaults fail validation without a transcript URL and LLM key.
	t.Setenv("LECTERN_TRANSCRIPT_URL", "https://captions.test.invalid/v1")
	t.Setenv("OPENROUTER_API_KEY", "env-openrouter")

	missing := filepath.Join(env.baseDir, "missing-config.toml")
	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, missing)
	if err != nil {
		t.Fatalf("config show with missing file: %v", err)
	}
	requireContains(t, out, "# file not found, defaults shown")
	requireContains(t, out, "[paths]")
	if strings.Contains(out, "env-openrouter") {
		t.Fatalf("expected env-supplied key to be redacted, got:\n%s", out)
	}
}
