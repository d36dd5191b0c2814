// Package registry persists task runs in SQLite: the durable mapping from an
// entity to its current run token, lifecycle status, per-entity result
// version, and final artifact.
//
// The store enforces the lifecycle discipline at the database level: a partial
// unique index allows at most one non-terminal run per entity, and terminal
// transitions are compare-and-set updates that fire exactly once. Runs are
// never mutated after termination.
package registry
