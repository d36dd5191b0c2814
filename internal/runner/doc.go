// Package runner executes entity runs and fans their event streams out to
// attached listeners.
//
// A run is a set of concurrent sources (transcript, analysis, slides) working
// on one entity. The Runner schedules the registered SourceRunner handlers,
// wraps each one so that exactly one terminal event per source reaches the
// stream, records outcomes in the registry before the run-level terminal is
// published, and maintains heartbeats so abandoned runs can be reclaimed.
//
// Listeners attach to a run through its Hub, which retains every envelope for
// the lifetime of the run; a resume listener attaches at the live tail while
// the initial listener reads from the beginning. Sources exchange
// intermediate artifacts (for example the fetched transcript) through the
// per-run Exchange without the runner knowing their shapes.
package runner
