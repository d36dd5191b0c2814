// Package logs provides file tailing and the HTTP log-stream client shared by
// the CLI and daemon diagnostics.
//
// Tail streams log files with bounded memory usage, supports negative offsets
// for "last N lines" reads, and powers follow-mode updates for
// `lectern logs`. StreamClient fetches structured events from the daemon's
// /api/logs endpoint, which carries entity, run, and source tags the plain
// file cannot. Callers supply context deadlines so background polling shuts
// down cleanly when the CLI exits.
package logs
