package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lectern/internal/api"
	"lectern/internal/stream"
)

func mustClient(t *testing.T, bind, token string) *Client {
	t.Helper()
	c, err := New(bind, token)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func beginEventStream(t *testing.T, w http.ResponseWriter, runToken string) http.Flusher {
	t.Helper()
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set(api.RunTokenHeader, runToken)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher
}

func TestClientStartRunStreamsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/start/lecture-9" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body api.StartRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Sources) != 1 || body.Sources[0] != "analysis" {
			t.Errorf("unexpected sources: %v", body.Sources)
		}
		flusher := beginEventStream(t, w, "tok-123")
		if err := stream.WriteEvent(w, stream.NewProgress(stream.SourceAnalysis, "working", "on it")); err != nil {
			t.Errorf("write event: %v", err)
		}
		flusher.Flush()
		if err := stream.WriteEvent(w, stream.NewComplete(stream.SourceUnified, "tok-123", 1, json.RawMessage(`{"summary":"a"}`))); err != nil {
			t.Errorf("write event: %v", err)
		}
		flusher.Flush()
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "")
	str, err := c.StartRun(context.Background(), "lecture-9", StartOptions{Sources: []string{"analysis"}})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	defer str.Close()
	if str.RunID != "tok-123" {
		t.Fatalf("expected run token from header, got %q", str.RunID)
	}

	first, err := str.Next()
	if err != nil {
		t.Fatalf("first envelope: %v", err)
	}
	if first.Type != stream.EventProgress || first.Source != stream.SourceAnalysis {
		t.Fatalf("unexpected first envelope: %+v", first)
	}
	second, err := str.Next()
	if err != nil {
		t.Fatalf("second envelope: %v", err)
	}
	if second.Type != stream.EventComplete || second.Version != 1 {
		t.Fatalf("unexpected terminal: %+v", second)
	}
}

func TestClientStartRunConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, api.ErrorResponse{Error: "run already active"})
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "")
	_, err := c.StartRun(context.Background(), "lecture-9", StartOptions{})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Message != "run already active" {
		t.Fatalf("expected server message preserved, got %v", err)
	}
}

func TestClientResumeRunCompletedSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resume/lecture-9" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, api.ResumeCompleted{
			Completed: true,
			EntityID:  "lecture-9",
			RunID:     "tok-done",
			Version:   3,
			Result:    json.RawMessage(`{"summary":"done"}`),
		})
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "")
	resumed, err := c.ResumeRun(context.Background(), "lecture-9")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Stream != nil {
		t.Fatal("expected no stream for a completed run")
	}
	if resumed.Completed == nil || resumed.Completed.Version != 3 || resumed.Completed.RunID != "tok-done" {
		t.Fatalf("unexpected snapshot: %+v", resumed.Completed)
	}
}

func TestClientResumeRunLiveStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := beginEventStream(t, w, "tok-live")
		if err := stream.WriteEvent(w, stream.NewComplete(stream.SourceUnified, "tok-live", 2, nil)); err != nil {
			t.Errorf("write event: %v", err)
		}
		flusher.Flush()
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "")
	resumed, err := c.ResumeRun(context.Background(), "lecture-9")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Completed != nil {
		t.Fatal("expected a live stream, not a snapshot")
	}
	defer resumed.Stream.Close()
	if resumed.Stream.RunID != "tok-live" {
		t.Fatalf("expected run token from header, got %q", resumed.Stream.RunID)
	}
	env, err := resumed.Stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if env.Type != stream.EventComplete || env.Version != 2 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestClientResumeRunMapsStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "no runs", status: http.StatusNotFound, want: ErrNoRuns},
		{name: "failed run", status: http.StatusConflict, want: ErrNotResumable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, api.ErrorResponse{Error: "nope"})
			}))
			defer srv.Close()

			c := mustClient(t, srv.URL, "")
			_, err := c.ResumeRun(context.Background(), "lecture-9")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/lecture-9" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, api.EntityStatus{
			EntityID: "lecture-9",
			Status:   "completed",
			Version:  4,
			Result:   json.RawMessage(`{"summary":"x"}`),
		})
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "")
	status, err := c.Status(context.Background(), "lecture-9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != "completed" || status.Version != 4 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		writeJSON(t, w, http.StatusOK, api.EntityStatus{EntityID: "lecture-9", Status: api.StatusNone})
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, "sekrit")
	if _, err := c.Status(context.Background(), "lecture-9"); err != nil {
		t.Fatalf("status: %v", err)
	}
}
