package logs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"lectern/internal/api"
	"lectern/internal/logging"
	"lectern/internal/logs"
)

func TestNewStreamClientEmptyBind(t *testing.T) {
	client, err := logs.NewStreamClient("   ", "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}

	_, err = client.Fetch(context.Background(), logs.StreamQuery{})
	if !logs.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error from nil client, got %v", err)
	}
}

func TestStreamClientFetchBuildsQueryAndDecodes(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{
			Events: []logging.LogEvent{{
				Sequence:  4,
				Level:     "info",
				Message:   "run started",
				Component: "runner",
				EntityID:  "vid-1",
			}},
			Next: 5,
		})
	}))
	defer srv.Close()

	client, err := logs.NewStreamClient(srv.URL, "sekrit")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}

	resp, err := client.Fetch(context.Background(), logs.StreamQuery{
		Since:     3,
		Limit:     50,
		Follow:    true,
		Tail:      true,
		Component: "api-server",
		EntityID:  "vid-1",
		RunID:     "tok-1",
		Source:    "transcript",
	})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Message != "run started" {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
	if resp.Next != 5 {
		t.Fatalf("next cursor: expected 5, got %d", resp.Next)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("authorization header: %q", gotAuth)
	}

	for key, want := range map[string]string{
		"since":     "3",
		"limit":     "50",
		"follow":    "1",
		"tail":      "1",
		"component": "api-server",
		"entity":    "vid-1",
		"run":       "tok-1",
		"source":    "transcript",
	} {
		if got := gotQuery.Get(key); got != want {
			t.Fatalf("query[%s]: expected %q, got %q", key, want, got)
		}
	}
}

func TestStreamClientFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := logs.NewStreamClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}
	if _, err := client.Fetch(context.Background(), logs.StreamQuery{}); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestIsAPIUnavailable(t *testing.T) {
	dialErr := &url.Error{
		Op:  "Get",
		URL: "http://127.0.0.1:1/api/logs",
		Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
	if !logs.IsAPIUnavailable(logs.ErrAPIUnavailable) {
		t.Fatal("expected ErrAPIUnavailable to be unavailable")
	}
	if !logs.IsAPIUnavailable(dialErr) {
		t.Fatal("expected dial failure to be unavailable")
	}
	if logs.IsAPIUnavailable(errors.New("other")) {
		t.Fatal("did not expect generic error to be unavailable")
	}
}
