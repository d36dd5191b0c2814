package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/registry"
	"lectern/internal/services"
	"lectern/internal/stream"
)

// execute coordinates one run: it transitions the registry row to running,
// schedules every source handler, merges their payloads, and publishes the
// run-level terminal after the outcome is recorded. The registry write always
// precedes the terminal envelope so a crash between the two leaves listeners
// reconnecting into a consistent record.
func (r *Runner) execute(ctx context.Context, run *runState) {
	defer r.wg.Done()
	defer close(run.done)
	defer r.release(run)
	defer run.cancel()

	logger := r.runLogger(run)
	runStart := time.Now()
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("sources", joinSources(run.sources)),
	)

	// Terminal persistence must survive shutdown cancellation, otherwise a
	// stopping daemon would strand runs in running state.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelPersist()

	if _, err := r.store.MarkRunning(ctx, run.token); err != nil {
		reason := failureMessage(err)
		if errors.Is(err, registry.ErrRunNotActive) {
			reason = "run was cancelled before it started"
		}
		r.finishFailed(persistCtx, run, logger, reason, err)
		return
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go r.heartbeat.StartLoop(hbCtx, &hbWG, run.token)

	results, firstErr := r.executeSources(ctx, run, logger)

	hbCancel()
	hbWG.Wait()

	if firstErr != nil {
		reason := failureMessage(firstErr)
		switch {
		case run.wasSuperseded():
			reason = registry.SupersededReason
		case errors.Is(firstErr, context.Canceled) && ctx.Err() != nil:
			reason = registry.DaemonStopReason
		}
		r.finishFailed(persistCtx, run, logger, reason, firstErr)
		return
	}

	artifact, err := mergeArtifact(run.sources, results)
	if err != nil {
		r.finishFailed(persistCtx, run, logger, failureMessage(err), err)
		return
	}

	recorded, err := r.store.CompleteRun(persistCtx, run.token, string(artifact))
	if err != nil {
		// Lost the terminal race, typically to a stale-heartbeat reclaim.
		logger.Error("failed to persist run completion", logging.Error(err))
		run.hub.Publish(stream.NewError(stream.SourceUnified, failureMessage(err)))
		run.hub.Close()
		return
	}

	run.hub.Publish(stream.NewComplete(stream.SourceUnified, run.token, recorded.Version, artifact))
	run.hub.Close()

	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int64("version", recorded.Version),
		logging.Duration("run_duration", time.Since(runStart)),
	)
	r.notify(persistCtx, logger, notifications.EventRunCompleted, notifications.Payload{
		"entity":  run.entityID,
		"version": strconv.FormatInt(recorded.Version, 10),
		"sources": joinSources(run.sources),
	})
}

// executeSources runs every source handler concurrently. The first failure
// cancels the remaining sources; each opened source still receives exactly
// one terminal envelope.
func (r *Runner) executeSources(ctx context.Context, run *runState, logger *slog.Logger) (map[stream.Source]json.RawMessage, error) {
	srcCtx, cancelSources := context.WithCancel(ctx)
	defer cancelSources()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make(map[stream.Source]json.RawMessage, len(run.sources))
		firstErr error
	)
	for _, src := range run.sources {
		handler := r.sources[src]
		wg.Add(1)
		go func(src stream.Source, handler SourceRunner) {
			defer wg.Done()
			payload, err := r.executeSource(srcCtx, run, logger, src, handler)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil || errors.Is(firstErr, context.Canceled) && !errors.Is(err, context.Canceled) {
					firstErr = err
				}
				cancelSources()
				return
			}
			results[src] = payload
		}(src, handler)
	}
	wg.Wait()
	return results, firstErr
}

// executeSource wraps one handler invocation. It owns the source's terminal:
// an error envelope when Prepare or Execute fails, a complete envelope with
// the payload otherwise.
func (r *Runner) executeSource(ctx context.Context, run *runState, runLogger *slog.Logger, src stream.Source, handler SourceRunner) (json.RawMessage, error) {
	logger := runLogger.With(logging.String(logging.FieldSource, string(src)))
	if override := sourceOverrideLevel(r.cfg.Logging.SourceOverrides, string(src)); override != "" {
		logger = logging.WithLevelOverride(logger, parseSourceLevel(override))
	}
	start := time.Now()
	logger.Info("source started", logging.String(logging.FieldEventType, "source_start"))

	req := run.request()
	em := NewEmitter(run.hub, src).WithProgressLog(logger)

	if err := handler.Prepare(ctx, req); err != nil {
		r.failSource(run, logger, src, err)
		return nil, err
	}

	payload, err := handler.Execute(ctx, req, em)
	if err != nil {
		r.failSource(run, logger, src, err)
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	run.hub.Publish(stream.NewComplete(src, run.token, 0, payload))
	logger.Info("source completed",
		logging.String(logging.FieldEventType, "source_complete"),
		logging.Duration("source_duration", time.Since(start)),
	)
	return payload, nil
}

func (r *Runner) failSource(run *runState, logger *slog.Logger, src stream.Source, err error) {
	message := failureMessage(err)
	run.hub.Publish(stream.NewError(src, message))
	if errors.Is(err, context.Canceled) {
		logger.Debug("source cancelled", logging.String("reason", message))
		return
	}
	logger.Error("source failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "source_failure"),
		logging.String(logging.FieldErrorCode, services.Classify(err)),
	)
}

// finishFailed records the failure and then publishes the run-level error
// terminal, in that order.
func (r *Runner) finishFailed(persistCtx context.Context, run *runState, logger *slog.Logger, reason string, cause error) {
	if _, err := r.store.FailRun(persistCtx, run.token, reason); err != nil && !errors.Is(err, registry.ErrRunNotActive) {
		logger.Error("failed to persist run failure", logging.Error(err))
	}
	run.hub.Publish(stream.NewError(stream.SourceUnified, reason))
	run.hub.Close()

	logger.Error("run failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "run_failed"),
		logging.String("error_message", reason),
		logging.String(logging.FieldErrorCode, services.Classify(cause)),
		logging.Alert("run_failure"),
	)
	r.notify(persistCtx, logger, notifications.EventRunFailed, notifications.Payload{
		"entity": run.entityID,
		"reason": reason,
	})
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		logger.Warn("notification delivery failed", logging.Error(err))
	}
}

func (r *Runner) runLogger(run *runState) *slog.Logger {
	return r.logger.With(
		logging.String(logging.FieldEntityID, run.entityID),
		logging.String(logging.FieldRunID, run.token),
	)
}

func sourceOverrideLevel(overrides map[string]string, source string) string {
	if len(overrides) == 0 {
		return ""
	}
	for key, value := range overrides {
		if strings.EqualFold(strings.TrimSpace(key), source) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func parseSourceLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func failureMessage(err error) string {
	if err == nil {
		return "failed without error detail"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "failed without error detail"
	}
	return message
}

func joinSources(sources []stream.Source) string {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = string(src)
	}
	return strings.Join(names, ", ")
}
