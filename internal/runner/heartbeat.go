package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lectern/internal/logging"
	"lectern/internal/registry"
)

// HeartbeatMonitor maintains run heartbeats and reclaims runs whose owner
// stopped updating them.
type HeartbeatMonitor struct {
	store    *registry.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *registry.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStaleRuns fails active runs whose heartbeat predates the configured
// timeout and returns the reclaimed records.
func (h *HeartbeatMonitor) ReclaimStaleRuns(ctx context.Context, logger *slog.Logger) ([]*registry.Run, error) {
	if h.timeout <= 0 {
		return nil, nil
	}
	cutoff := time.Now().Add(-h.timeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff, registry.StaleHeartbeatReason)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 && logger != nil {
		logger.Info("reclaimed stale runs", logging.Int("count", len(reclaimed)))
	}
	return reclaimed, nil
}

// StartLoop runs a heartbeat updater for a specific run until context
// cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, runToken string) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "run-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, runToken, time.Now().UTC()); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled by shutdown")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
