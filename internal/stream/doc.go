// Package stream defines the event wire protocol shared by the daemon and its
// clients: the typed event envelope, the closed type/source sets, strict
// envelope validation, and the SSE encoder/decoder pair.
//
// Every event travels as a single `data: <json>` line followed by a blank
// line. The decoder is tolerant of arbitrary chunk boundaries and of SSE
// comment/keepalive lines; it distinguishes transport noise (skipped) from
// protocol violations (surfaced as *ProtocolError).
package stream
