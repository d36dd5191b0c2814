// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs for
// daemon control: liveness pings, status snapshots, shutdown, run listings,
// log tailing, and notification tests. The server embeds the daemon while the
// client keeps dial timeouts short so CLI commands fail fast when the daemon
// is offline.
//
// Run streaming does not go through this package: ingest and resume attach to
// the daemon's HTTP API, which owns the event wire format.
package ipc
