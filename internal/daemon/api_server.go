package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/registry"
	"lectern/internal/runner"
	"lectern/internal/services"
	"lectern/internal/stream"
)

type apiServer struct {
	bind      string
	token     string
	keepalive time.Duration
	logger    *slog.Logger
	daemon    *Daemon
	runSvc    *api.RunService

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	keepalive := time.Duration(cfg.Runner.SSEKeepaliveInterval) * time.Second
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}

	srv := &apiServer{
		bind:      bind,
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		keepalive: keepalive,
		logger:    logger,
		daemon:    d,
		runSvc:    api.NewRunService(d.store),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/start/", authMiddleware(srv.token, srv.handleStart))
	mux.HandleFunc("/resume/", authMiddleware(srv.token, srv.handleResume))
	mux.HandleFunc("/status/", authMiddleware(srv.token, srv.handleEntityStatus))
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/api/status", authMiddleware(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/runs", authMiddleware(srv.token, srv.handleRuns))
	mux.HandleFunc("/api/logs", authMiddleware(srv.token, srv.handleLogs))
	srv.handler = mux

	// No WriteTimeout: SSE responses and log long-polls stay open until the
	// run finishes or the client leaves.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// boundAddr reports the live listener address, falling back to the configured
// bind before the server starts.
func (s *apiServer) boundAddr() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

// handleStart begins a new run for the entity and streams it from the first
// event. The response carries the run token as a header so clients learn it
// before any event arrives.
func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entityID, ok := entityFromPath(r.URL.Path, "/start/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	var body api.StartRunRequest
	if err := decodeOptionalBody(r.Body, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request body: %v", err))
		return
	}

	req := runner.StartRequest{
		EntityID:  entityID,
		Supersede: body.Supersede,
		Options:   body.Options,
	}
	for _, name := range body.Sources {
		src, ok := stream.ParseSource(name)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", name))
			return
		}
		req.Sources = append(req.Sources, src)
	}

	handle, err := s.daemon.runner.StartRun(r.Context(), req)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.log().Info("run started via api",
		logging.String(logging.FieldEntityID, handle.EntityID),
		logging.String(logging.FieldRunID, handle.RunToken),
	)
	s.streamRun(w, r, handle, 0)
}

// handleResume reattaches a client to the entity's latest run. In-flight runs
// stream from the live tail; finished ones come back as JSON so the client
// can render the durable artifact without replaying the stream.
func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entityID, ok := entityFromPath(r.URL.Path, "/resume/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := registry.ValidateEntityID(entityID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if handle, live := s.daemon.runner.Lookup(entityID); live && !handle.Hub().Closed() {
		s.streamRun(w, r, handle, handle.Hub().End())
		return
	}

	latest, err := s.daemon.store.LatestRun(r.Context(), entityID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no runs for entity %q", entityID))
		return
	}

	switch latest.Status {
	case registry.StatusCompleted:
		s.writeJSON(w, http.StatusOK, api.ResumeCompleted{
			Completed: true,
			EntityID:  entityID,
			RunID:     latest.RunToken,
			Version:   latest.Version,
			Result:    json.RawMessage(latest.ResultJSON),
		})
	case registry.StatusFailed:
		message := latest.ErrorMessage
		if message == "" {
			message = "run failed"
		}
		s.writeError(w, http.StatusConflict, fmt.Sprintf("latest run failed: %s", message))
	default:
		// Recorded as active but not owned by this runner; heartbeat reclaim
		// will fail it shortly.
		s.writeError(w, http.StatusConflict, fmt.Sprintf("run %s is not attached to this daemon", latest.RunToken))
	}
}

// handleEntityStatus reports the latest run state and newest durable artifact
// for one entity.
func (s *apiServer) handleEntityStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entityID, ok := entityFromPath(r.URL.Path, "/status/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := registry.ValidateEntityID(entityID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.runSvc.EntityStatus(r.Context(), entityID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	payload := api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		RegistryDBPath: status.RegistryDBPath,
		LockFilePath:   status.LockFilePath,
		APIBind:        status.APIBind,
		Runner: api.RunnerStatus{
			Running:      status.Runner.Running,
			RunStats:     api.MergeRunStats(status.Runner.RunStats),
			ActiveRuns:   api.FromHandles(status.Runner.Active),
			SourceHealth: api.SourceHealthSlice(status.Runner.SourceHealth),
		},
		Dependencies: deps,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	entityID := strings.TrimSpace(query.Get("entity"))
	if entityID != "" {
		if err := registry.ValidateEntityID(entityID); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, _ := strconv.Atoi(query.Get("limit"))

	runs, err := s.runSvc.List(r.Context(), entityID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: runs})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	hub := s.daemon.LogStream()
	archive := s.daemon.LogArchive()
	if hub == nil && archive == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: nil, Next: 0})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")

	filter := logFilter{
		entityID:  strings.TrimSpace(query.Get("entity")),
		runID:     strings.TrimSpace(query.Get("run")),
		source:    strings.TrimSpace(query.Get("source")),
		component: strings.TrimSpace(query.Get("component")),
	}

	var (
		events []logging.LogEvent
		next   uint64
	)

	// Events already evicted from the hub buffer come back from the archive.
	if archive != nil && since > 0 {
		firstSeq := uint64(0)
		if hub != nil {
			firstSeq = hub.FirstSequence()
		}
		if hub == nil || (firstSeq > 0 && since < firstSeq) {
			archived, cursor, archErr := archive.ReadSince(since, limit)
			if archErr != nil {
				s.log().Warn("log archive read failed", logging.Error(archErr))
			} else if len(archived) > 0 {
				events = archived
				next = cursor
			}
		}
	}

	if tail && since == 0 && !follow && hub != nil {
		events, next = hub.Tail(limit)
	} else if len(events) == 0 && hub != nil {
		fetched, cursor, fetchErr := hub.Fetch(r.Context(), since, limit, follow)
		if fetchErr != nil && !errors.Is(fetchErr, context.Canceled) && !errors.Is(fetchErr, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, fetchErr.Error())
			return
		}
		events = fetched
		next = cursor
	}

	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{
		Events: filter.apply(events),
		Next:   next,
	})
}

type logFilter struct {
	entityID  string
	runID     string
	source    string
	component string
}

func (f logFilter) apply(events []logging.LogEvent) []logging.LogEvent {
	if f.entityID == "" && f.runID == "" && f.source == "" && f.component == "" {
		return events
	}
	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if f.entityID != "" && evt.EntityID != f.entityID {
			continue
		}
		if f.runID != "" && evt.RunID != f.runID {
			continue
		}
		if f.source != "" && !strings.EqualFold(f.source, evt.Source) {
			continue
		}
		if f.component != "" && !strings.EqualFold(f.component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	return filtered
}

// streamRun writes the run's events from cursor onward as SSE until the hub
// drains or the client disconnects. If the hub drains without this connection
// observing a run-level terminal (the run finished between status check and
// attach), the terminal is synthesized from the registry row.
func (s *apiServer) streamRun(w http.ResponseWriter, r *http.Request, handle *runner.Handle, cursor int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(api.RunTokenHeader, handle.RunToken)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	hub := handle.Hub()
	sawTerminal := false

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.keepalive)
		events, next, done, err := hub.Next(waitCtx, cursor)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				// Client left; the run keeps executing on the daemon context.
				return
			}
			if werr := stream.WriteKeepalive(w); werr != nil {
				return
			}
			flusher.Flush()
			continue
		}

		for _, env := range events {
			if env.Source == stream.SourceUnified && env.Type.IsTerminal() {
				sawTerminal = true
			}
			if werr := stream.WriteEvent(w, env); werr != nil {
				return
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		cursor = next

		if done {
			if !sawTerminal {
				if env, ok := s.terminalFromRegistry(ctx, handle.RunToken); ok {
					if werr := stream.WriteEvent(w, env); werr == nil {
						flusher.Flush()
					}
				}
			}
			return
		}
	}
}

// terminalFromRegistry rebuilds the run-level terminal envelope from the
// persisted run record.
func (s *apiServer) terminalFromRegistry(ctx context.Context, runToken string) (stream.Envelope, bool) {
	if ctx.Err() != nil {
		return stream.Envelope{}, false
	}
	run, err := s.daemon.store.RunByToken(ctx, runToken)
	if err != nil || run == nil || !run.IsTerminal() {
		return stream.Envelope{}, false
	}
	if run.Status == registry.StatusCompleted {
		return stream.NewComplete(stream.SourceUnified, run.RunToken, run.Version, json.RawMessage(run.ResultJSON)), true
	}
	message := run.ErrorMessage
	if message == "" {
		message = "run failed"
	}
	return stream.NewError(stream.SourceUnified, message), true
}

func (s *apiServer) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidEntityID), errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrCapacity), errors.Is(err, runner.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// entityFromPath extracts the single path segment after prefix. Nested or
// empty segments report false.
func entityFromPath(path, prefix string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" || rest == path || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func decodeOptionalBody(body io.Reader, target any) error {
	if body == nil {
		return nil
	}
	err := json.NewDecoder(body).Decode(target)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
