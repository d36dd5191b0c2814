// Package daemon coordinates the long-running lectern process and its HTTP
// surface.
//
// It wires configuration, the run registry, and the task runner into a single
// lifecycle with flock-based locking to prevent multiple instances. The HTTP
// API it owns serves the streaming endpoints: starting a run returns that
// run's SSE stream, resume reattaches listeners to in-flight runs at the live
// tail or returns the durable artifact for finished ones, and the status
// endpoint reports the latest run state per entity. Supplemental endpoints
// expose daemon status, run listings, and live log tailing.
//
// Keep orchestration logic here: source behavior lives in the services
// packages while the daemon focuses on startup, shutdown, and transport.
package daemon
