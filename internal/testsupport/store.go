package testsupport

import (
	"context"
	"testing"

	"lectern/internal/config"
	"lectern/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a pending run for tests using the provided store.
func NewRun(t testing.TB, store *registry.Store, entityID, runToken string) *registry.Run {
	t.Helper()

	run, err := store.CreateRun(context.Background(), entityID, runToken, "")
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}
