// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal registry and runner models into
// transport-friendly DTOs that CLI and HTTP consumers can render without
// coupling to internal types.
//
// # Key Types
//
// Run: transport representation of a registry run with status, version,
// sources, timestamps, and the result artifact.
//
// EntityStatus: per-entity snapshot combining the latest run's state with the
// latest completed run's version and artifact.
//
// RunnerStatus: daemon running state, run stats, active runs, source health.
//
// DaemonStatus: aggregated runtime information including dependencies.
//
// # Converters
//
// FromRun: registry.Run -> Run with source list parsed from run params and
// result passthrough.
//
// StatusForEntity: latest/latestCompleted run pair -> EntityStatus.
//
// SourceHealthSlice: deterministic ordering of source health map.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (registry.Status, stream.Source) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Result artifacts are passed
// through as json.RawMessage to avoid double-encoding.
//
// Entity status is derived from registry rows rather than stored separately,
// so the API always reflects the current state of recorded runs.
package api
