package logstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lectern/internal/api"
	"lectern/internal/ipc"
	"lectern/internal/logging"
	"lectern/internal/logs"
	"lectern/internal/logstream"
)

type fakeTailClient struct {
	lines []string
	err   error
}

func (f *fakeTailClient) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ipc.LogTailResponse{Lines: f.lines, Offset: int64(len(f.lines))}, nil
}

func TestStreamPrefersAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{
			Events: []logging.LogEvent{{Sequence: 1, Message: "from api"}},
			Next:   2,
		})
	}))
	defer srv.Close()

	client, err := logs.NewStreamClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}

	var events []logging.LogEvent
	var lines []string
	printed, err := logstream.Stream(context.Background(), client, &fakeTailClient{lines: []string{"raw"}}, logstream.Options{Lines: 10},
		func(evt logging.LogEvent) { events = append(events, evt) },
		func(line string) { lines = append(lines, line) },
	)
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if !printed {
		t.Fatal("expected printed=true")
	}
	if len(events) != 1 || events[0].Message != "from api" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(lines) != 0 {
		t.Fatalf("legacy tail should not run when API works, got %v", lines)
	}
}

func TestStreamFallsBackToTail(t *testing.T) {
	// Point at a closed listener so the API fetch fails with a dial error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bind := srv.URL
	srv.Close()

	client, err := logs.NewStreamClient(bind, "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}

	var lines []string
	printed, err := logstream.Stream(context.Background(), client, &fakeTailClient{lines: []string{"one", "two"}}, logstream.Options{Lines: 10},
		nil,
		func(line string) { lines = append(lines, line) },
	)
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if !printed {
		t.Fatal("expected printed=true")
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestStreamFiltersRequireAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bind := srv.URL
	srv.Close()

	client, err := logs.NewStreamClient(bind, "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}

	_, err = logstream.Stream(context.Background(), client, &fakeTailClient{lines: []string{"raw"}},
		logstream.Options{Filters: logstream.Filters{EntityID: "vid-1"}}, nil, nil)
	if !errors.Is(err, logstream.ErrFiltersRequireAPI) {
		t.Fatalf("expected ErrFiltersRequireAPI, got %v", err)
	}
}

func TestStreamNoLegacyClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bind := srv.URL
	srv.Close()

	client, err := logs.NewStreamClient(bind, "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}

	_, err = logstream.Stream(context.Background(), client, nil, logstream.Options{}, nil, nil)
	if !errors.Is(err, logs.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
}
