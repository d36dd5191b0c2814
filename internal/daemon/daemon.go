package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/deps"
	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/registry"
	"lectern/internal/runner"
)

// LockFilename is the flock file that enforces single-instance execution.
const LockFilename = "lecternd.lock"

// Daemon coordinates the task runner, the run registry, and the HTTP API
// under one lifecycle.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *registry.Store
	runner   *runner.Runner
	notifier notifications.Service

	logPath    string
	logHub     *logging.StreamHub
	logArchive *logging.EventArchive

	api *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Runner         runner.StatusSummary
	RegistryDBPath string
	LockFilePath   string
	APIBind        string
	Dependencies   []deps.Status
}

// New constructs a daemon with initialized dependencies. logPath, logHub, and
// archive may be zero values when the caller does not stream logs.
func New(cfg *config.Config, store *registry.Store, logger *slog.Logger, run *runner.Runner, logPath string, logHub *logging.StreamHub, archive *logging.EventArchive, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || run == nil {
		return nil, errors.New("daemon requires config, store, logger, and runner")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if strings.TrimSpace(logPath) == "" {
		logPath = filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFilename)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, LockFilename)
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		runner:     run,
		notifier:   notifier,
		logPath:    logPath,
		logHub:     logHub,
		logArchive: archive,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, arms the runner, and brings up the HTTP
// API when one is configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lectern daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.runner.Start(d.ctx); err != nil {
		d.teardown()
		return fmt.Errorf("start runner: %w", err)
	}

	apiSrv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.runner.Stop()
		d.teardown()
		return fmt.Errorf("configure api server: %w", err)
	}
	if apiSrv != nil {
		if err := apiSrv.start(d.ctx); err != nil {
			d.runner.Stop()
			d.teardown()
			return fmt.Errorf("start api server: %w", err)
		}
		d.api = apiSrv
	}

	d.running.Store(true)
	d.logger.Info("lectern daemon started",
		logging.String("lock", d.lockPath),
		logging.String("registry", d.store.Path()),
	)
	d.notifyLifecycle(notifications.EventDaemonStarted, notifications.Payload{
		"bind": strings.TrimSpace(d.cfg.Paths.APIBind),
	})
	return nil
}

// Stop cancels in-flight runs, shuts down the API server, and releases the
// daemon lock. Active runs are recorded as failed with the daemon stop
// reason before their terminals are published.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
		d.api = nil
	}
	d.runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("lectern daemon stopped")
	d.notifyLifecycle(notifications.EventDaemonStopped, nil)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) teardown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	_ = d.lock.Unlock()
}

func (d *Daemon) notifyLifecycle(event notifications.Event, payload notifications.Payload) {
	if d.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("notification delivery failed", logging.Error(err))
	}
}

// ListRuns returns recent runs, newest first, optionally filtered by entity.
func (d *Daemon) ListRuns(ctx context.Context, entityID string, limit int) ([]api.Run, error) {
	if d.store == nil {
		return nil, errors.New("run registry unavailable")
	}
	runs, err := d.store.List(ctx, registry.ListFilter{EntityID: entityID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return api.FromRuns(runs), nil
}

// RunStats returns aggregate run counts keyed by status.
func (d *Daemon) RunStats(ctx context.Context) (map[string]int, error) {
	if d.store == nil {
		return nil, errors.New("run registry unavailable")
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return api.MergeRunStats(stats), nil
}

// EntityStatus reports the latest run state and durable artifact for one
// entity.
func (d *Daemon) EntityStatus(ctx context.Context, entityID string) (api.EntityStatus, error) {
	if err := registry.ValidateEntityID(entityID); err != nil {
		return api.EntityStatus{}, err
	}
	return api.NewRunService(d.store).EntityStatus(ctx, entityID)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// LogStream returns the in-memory log hub serving live tails, if configured.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.logHub
}

// LogArchive returns the on-disk log event archive, if configured.
func (d *Daemon) LogArchive() *logging.EventArchive {
	return d.logArchive
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	bind := strings.TrimSpace(d.cfg.Paths.APIBind)
	if d.api != nil {
		bind = d.api.boundAddr()
	}
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Runner:         d.runner.Status(ctx),
		RegistryDBPath: d.store.Path(),
		LockFilePath:   d.lockPath,
		APIBind:        bind,
		Dependencies:   deps.CheckBinaries(deps.DefaultRequirements(d.cfg)),
	}
}
