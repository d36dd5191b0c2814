// Package client consumes the daemon's run endpoints: it opens and resumes
// event streams, reconstructs results from streamed fragments, and tracks
// the lifecycle of one entity's runs on the consumer side.
//
// Session is the main entry point. It owns at most one listening connection;
// Start and Resume sever the previous listener before opening a new one, and
// a local abort never cancels the server-side run. Envelopes flow through a
// Dispatcher with one handler per source, partial payloads fold into the
// Accumulator (shallow merge, last write wins per key), and the run-level
// complete replaces the accumulated view with the authoritative artifact.
//
// Error handling follows the wire contract: transport noise is skipped by
// the decoder, protocol violations and task failures move the session to
// StateError with the accumulated view preserved, and aborts are silent.
package client
