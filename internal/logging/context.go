package logging

import (
	"context"
	"log/slog"

	"lectern/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEntityID is the standardized structured logging key for entity identifiers.
	FieldEntityID = "entity_id"
	// FieldRunID is the standardized structured logging key for ingestion run identifiers.
	FieldRunID = "run_id"
	// FieldSource is the standardized structured logging key for run source names (transcript, analysis, slides).
	FieldSource = "source"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldDecisionType is the standardized structured logging key for decision categories.
	FieldDecisionType = "decision_type"
	// FieldErrorCode is the standardized structured logging key for failure category codes.
	FieldErrorCode = "error_code"
	// FieldErrorHint is the standardized structured logging key for operator-facing remediation hints.
	FieldErrorHint = "error_hint"
	// FieldErrorDetailPath is the standardized structured logging key for on-disk failure detail dumps.
	FieldErrorDetailPath = "error_detail_path"
	// FieldProgressStage is the standardized structured logging key for progress stage labels.
	FieldProgressStage = "progress_stage"
	// FieldProgressPercent is the standardized structured logging key for progress percentages.
	FieldProgressPercent = "progress_percent"
	// FieldProgressMessage is the standardized structured logging key for progress detail messages.
	FieldProgressMessage = "progress_message"
	// FieldProgressETA is the standardized structured logging key for estimated seconds remaining.
	FieldProgressETA = "progress_eta_seconds"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.EntityIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEntityID, id))
	}
	if runID, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, runID))
	}
	if source, ok := services.SourceFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSource, source))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
