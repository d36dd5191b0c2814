package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunsListsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-alpha", "run-token-alpha")
	seedCompletedRun(t, env.store, "lecture-beta", "run-token-beta")

	out, _, err := runCLI(t, []string{"runs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, "lecture-alpha")
	requireContains(t, out, "lecture-beta")
	requireContains(t, out, "Completed")
	requireContains(t, out, "transcript")
}

func TestRunsFiltersByEntity(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-alpha", "run-token-alpha")
	seedCompletedRun(t, env.store, "lecture-beta", "run-token-beta")

	out, _, err := runCLI(t, []string{"runs", "--entity", "lecture-alpha"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs --entity: %v", err)
	}
	requireContains(t, out, "lecture-alpha")
	if strings.Contains(out, "lecture-beta") {
		t.Fatalf("expected filtered output, got:\n%s", out)
	}
}

func TestRunsEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"runs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestRunsJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-alpha", "run-token-alpha")

	out, _, err := runCLI(t, []string{"runs", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs --json: %v", err)
	}

	var resp struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(resp.Runs))
	}
	run := resp.Runs[0]
	if run["entityId"] != "lecture-alpha" {
		t.Fatalf("expected entityId lecture-alpha, got %v", run["entityId"])
	}
	if run["status"] != "completed" {
		t.Fatalf("expected status completed, got %v", run["status"])
	}
}

func TestRunsFallsBackToRegistryWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-offline", "run-token-offline")
	deadSocket := filepath.Join(env.baseDir, "no-daemon.sock")

	out, _, err := runCLI(t, []string{"runs"}, deadSocket, env.configPath)
	if err != nil {
		t.Fatalf("runs without daemon: %v", err)
	}
	requireContains(t, out, "lecture-offline")
}

func TestRunsRejectsInvalidEntityFilter(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "--entity", "bad id"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid entity id") {
		t.Fatalf("expected invalid entity id error, got %v", err)
	}
}
