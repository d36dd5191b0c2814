package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestShowCompletedEntity(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-show", "run-token-show")

	out, _, err := runCLI(t, []string{"show", "lecture-show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Entity:   lecture-show")
	requireContains(t, out, "Status:   Completed")
	requireContains(t, out, "Run:      run-token-show")
	requireContains(t, out, "Version:  1")
	requireContains(t, out, "Result:")
	requireContains(t, out, `"transcript": "seeded"`)
}

func TestShowNoRuns(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"show", "lecture-unknown"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "No runs recorded for lecture-unknown")
}

func TestShowJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-show", "run-token-show")

	out, _, err := runCLI(t, []string{"show", "lecture-show", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show --json: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if status["entityId"] != "lecture-show" {
		t.Fatalf("expected entityId lecture-show, got %v", status["entityId"])
	}
	if status["status"] != "completed" {
		t.Fatalf("expected status completed, got %v", status["status"])
	}
	if status["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", status["version"])
	}
}

func TestShowFallsBackToRegistryWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCompletedRun(t, env.store, "lecture-offline", "run-token-offline")
	deadSocket := filepath.Join(env.baseDir, "no-daemon.sock")

	out, _, err := runCLI(t, []string{"show", "lecture-offline"}, deadSocket, env.configPath)
	if err != nil {
		t.Fatalf("show without daemon: %v", err)
	}
	requireContains(t, out, "Entity:   lecture-offline")
	requireContains(t, out, "Status:   Completed")
}
