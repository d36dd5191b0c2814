// Package services defines shared utilities consumed by the run sources and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp entity IDs, run IDs, source names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (validation vs transient vs external tool) consistent.
//
// Use these helpers when wiring new source logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
