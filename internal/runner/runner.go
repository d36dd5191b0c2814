package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/registry"
	"lectern/internal/services"
	"lectern/internal/stream"
)

var (
	// ErrCapacity is returned when starting a run would exceed the
	// configured concurrency limit.
	ErrCapacity = errors.New("maximum concurrent runs reached")

	// ErrStopped is returned when the runner is not accepting new runs.
	ErrStopped = errors.New("runner stopped")
)

// Runner owns every in-flight run. It enforces one active run per entity,
// caps overall concurrency, and keeps the registry authoritative for run
// outcomes.
type Runner struct {
	cfg      *config.Config
	store    *registry.Store
	logger   *slog.Logger
	notifier notifications.Service

	heartbeat *HeartbeatMonitor

	sources     map[stream.Source]SourceRunner
	sourceOrder []stream.Source

	mu      sync.RWMutex
	active  map[string]*runState
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc
	baseCtx context.Context
}

// New constructs a runner with the given source handlers. A nil notifier
// falls back to the service configured in cfg.
func New(cfg *config.Config, store *registry.Store, logger *slog.Logger, notifier notifications.Service, handlers ...SourceRunner) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	sources := make(map[stream.Source]SourceRunner, len(handlers))
	for _, handler := range handlers {
		if handler == nil {
			return nil, errors.New("nil source handler")
		}
		src := handler.Source()
		if !stream.KnownSource(src) || src == stream.SourceUnified {
			return nil, fmt.Errorf("handler reports invalid source %q", src)
		}
		if _, dup := sources[src]; dup {
			return nil, fmt.Errorf("duplicate handler for source %q", src)
		}
		sources[src] = handler
	}

	order := make([]stream.Source, 0, len(sources))
	for _, src := range stream.TaskSources() {
		if _, ok := sources[src]; ok {
			order = append(order, src)
		}
	}

	interval := time.Duration(cfg.Runner.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := time.Duration(cfg.Runner.HeartbeatTimeout) * time.Second

	return &Runner{
		cfg:         cfg,
		store:       store,
		logger:      logging.NewComponentLogger(logger, "runner"),
		notifier:    notifier,
		heartbeat:   NewHeartbeatMonitor(store, logger, interval, timeout),
		sources:     sources,
		sourceOrder: order,
		active:      make(map[string]*runState),
	}, nil
}

// Start arms the runner: orphaned registry rows from a previous daemon are
// failed, and a background loop begins reclaiming runs with expired
// heartbeats. Runs cannot start before Start is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	baseCtx, cancel := context.WithCancel(ctx)
	r.baseCtx = baseCtx
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	orphaned, err := r.store.FailActive(ctx, registry.OrphanedReason)
	if err != nil {
		r.logger.Warn("failed to reclaim orphaned runs", logging.Error(err))
	} else if len(orphaned) > 0 {
		r.logger.Info("failed orphaned runs from previous daemon", logging.Int("count", len(orphaned)))
	}

	r.wg.Add(1)
	go r.reclaimLoop(baseCtx)
	return nil
}

// Stop cancels every in-flight run and waits for their terminal events to be
// published. Active runs are recorded as failed with the daemon stop reason.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Running reports whether the runner accepts new runs.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// StartRequest describes one requested run.
type StartRequest struct {
	EntityID string
	// Sources narrows the run to a subset of the registered handlers. Empty
	// means the configured default set.
	Sources []stream.Source
	// Supersede cancels an active run for the entity instead of rejecting
	// the request.
	Supersede bool
	// Options is an opaque JSON object passed through to source handlers.
	Options json.RawMessage
}

// StartRun begins a run for the entity and returns a handle for attaching
// listeners. The registry row exists before StartRun returns, so a crash
// after this point leaves a record to reclaim.
func (r *Runner) StartRun(ctx context.Context, req StartRequest) (*Handle, error) {
	if err := registry.ValidateEntityID(req.EntityID); err != nil {
		return nil, err
	}
	sources, err := r.resolveSources(req.Sources)
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return nil, ErrStopped
		}
		existing := r.active[req.EntityID]
		if existing == nil {
			break
		}
		r.mu.Unlock()

		if existing.hub.Closed() {
			// The run already reached its terminal and is being released.
			select {
			case <-existing.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if !req.Supersede {
			return nil, fmt.Errorf("%w: %s", registry.ErrRunActive, req.EntityID)
		}
		r.logger.Info("superseding active run",
			logging.String(logging.FieldEntityID, req.EntityID),
			logging.String(logging.FieldRunID, existing.token),
		)
		existing.supersede()
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// r.mu is held with no active run for the entity.

	maxRuns := r.cfg.Runner.MaxConcurrentRuns
	if maxRuns > 0 && len(r.active) >= maxRuns {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, maxRuns)
	}

	token := uuid.NewString()
	params, err := encodeParams(sources, req)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if _, err := r.store.CreateRun(ctx, req.EntityID, token, params); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	runCtx, cancelRun := context.WithCancel(r.baseCtx)
	run := &runState{
		entityID: req.EntityID,
		token:    token,
		sources:  sources,
		options:  req.Options,
		started:  time.Now().UTC(),
		hub:      NewHub(),
		exchange: NewExchange(),
		cancel:   cancelRun,
		done:     make(chan struct{}),
	}
	r.active[req.EntityID] = run
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(runCtx, run)
	return run.handle(), nil
}

// Lookup returns the handle of the entity's live run, if any.
func (r *Runner) Lookup(entityID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.active[entityID]
	if !ok {
		return nil, false
	}
	return run.handle(), true
}

// ActiveHandles returns a handle for every live run.
func (r *Runner) ActiveHandles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]*Handle, 0, len(r.active))
	for _, run := range r.active {
		handles = append(handles, run.handle())
	}
	return handles
}

// Health runs the health check of every registered source handler.
func (r *Runner) Health(ctx context.Context) map[string]Health {
	health := make(map[string]Health, len(r.sources))
	for src, handler := range r.sources {
		health[string(src)] = handler.HealthCheck(ctx)
	}
	return health
}

func (r *Runner) resolveSources(requested []stream.Source) ([]stream.Source, error) {
	if len(requested) == 0 {
		requested = make([]stream.Source, 0, len(r.cfg.Runner.DefaultSources))
		for _, name := range r.cfg.Runner.DefaultSources {
			src, ok := stream.ParseSource(name)
			if !ok {
				return nil, services.Wrap(services.ErrConfiguration, "runner", "resolve sources",
					fmt.Sprintf("unknown default source %q", name), nil)
			}
			requested = append(requested, src)
		}
	}

	resolved := make([]stream.Source, 0, len(requested))
	seen := make(map[stream.Source]struct{}, len(requested))
	for _, src := range requested {
		if src == stream.SourceUnified || !stream.KnownSource(src) {
			return nil, services.Wrap(services.ErrValidation, "runner", "resolve sources",
				fmt.Sprintf("unknown source %q", src), nil)
		}
		if _, ok := r.sources[src]; !ok {
			return nil, services.Wrap(services.ErrValidation, "runner", "resolve sources",
				fmt.Sprintf("source %q is not enabled", src), nil)
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		resolved = append(resolved, src)
	}
	if len(resolved) == 0 {
		return nil, services.Wrap(services.ErrValidation, "runner", "resolve sources", "no sources requested", nil)
	}

	// Preserve registration order so artifact merging is deterministic.
	ordered := make([]stream.Source, 0, len(resolved))
	for _, src := range r.sourceOrder {
		if _, ok := seen[src]; ok {
			ordered = append(ordered, src)
		}
	}
	return ordered, nil
}

func (r *Runner) release(run *runState) {
	r.mu.Lock()
	if current, ok := r.active[run.entityID]; ok && current == run {
		delete(r.active, run.entityID)
	}
	r.mu.Unlock()
}

func (r *Runner) reclaimLoop(ctx context.Context) {
	defer r.wg.Done()
	interval := r.heartbeat.timeout
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.heartbeat.ReclaimStaleRuns(ctx, r.logger); err != nil {
				r.logger.Warn("reclaim stale runs failed; stuck runs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check registry database access"),
				)
			}
		}
	}
}

func encodeParams(sources []stream.Source, req StartRequest) (string, error) {
	type runParams struct {
		Sources   []stream.Source `json:"sources"`
		Supersede bool            `json:"supersede,omitempty"`
		Options   json.RawMessage `json:"options,omitempty"`
	}
	encoded, err := json.Marshal(runParams{
		Sources:   sources,
		Supersede: req.Supersede,
		Options:   req.Options,
	})
	if err != nil {
		return "", fmt.Errorf("encode run params: %w", err)
	}
	return string(encoded), nil
}
