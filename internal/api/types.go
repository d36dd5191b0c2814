package api

import (
	"encoding/json"

	"lectern/internal/logging"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunTokenHeader carries the wire run id on streaming responses so clients
// learn it before the first event arrives.
const RunTokenHeader = "X-Run-Token"

// Run describes a task run in a transport-friendly format.
type Run struct {
	EntityID     string          `json:"entityId"`
	RunID        string          `json:"runId"`
	Status       string          `json:"status"`
	Version      int64           `json:"version"`
	Sources      []string        `json:"sources,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	StartedAt    string          `json:"startedAt,omitempty"`
	FinishedAt   string          `json:"finishedAt,omitempty"`
}

// EntityStatus reports the latest run state and durable artifact for one
// entity. Status is "none" when the entity has no runs yet; Version and
// Result always reflect the newest completed run.
type EntityStatus struct {
	EntityID     string          `json:"entityId"`
	Status       string          `json:"status"`
	Version      int64           `json:"version"`
	RunID        string          `json:"runId,omitempty"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
}

// StatusNone is the EntityStatus.Status value for entities with no runs.
const StatusNone = "none"

// StartRunRequest is the body of the start endpoint.
type StartRunRequest struct {
	Sources   []string        `json:"sources,omitempty"`
	Supersede bool            `json:"supersede,omitempty"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// ResumeCompleted is returned by the resume endpoint when the latest run
// already finished; there is nothing left to stream.
type ResumeCompleted struct {
	Completed bool            `json:"completed"`
	EntityID  string          `json:"entityId"`
	RunID     string          `json:"runId"`
	Version   int64           `json:"version"`
	Result    json.RawMessage `json:"result"`
}

// ErrorResponse is the JSON error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ActiveRun summarizes one in-flight run.
type ActiveRun struct {
	EntityID  string   `json:"entityId"`
	RunID     string   `json:"runId"`
	Sources   []string `json:"sources,omitempty"`
	StartedAt string   `json:"startedAt,omitempty"`
}

// SourceHealth mirrors readiness reporting for source handlers.
type SourceHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// RunnerStatus summarizes run execution state.
type RunnerStatus struct {
	Running      bool           `json:"running"`
	RunStats     map[string]int `json:"runStats"`
	ActiveRuns   []ActiveRun    `json:"activeRuns,omitempty"`
	SourceHealth []SourceHealth `json:"sourceHealth"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool               `json:"running"`
	PID            int                `json:"pid"`
	RegistryDBPath string             `json:"registryDbPath"`
	LockFilePath   string             `json:"lockFilePath"`
	APIBind        string             `json:"apiBind,omitempty"`
	Runner         RunnerStatus       `json:"runner"`
	Dependencies   []DependencyStatus `json:"dependencies"`
}

// RunListResponse wraps a collection of runs for API responses.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunStatsResponse provides a normalized run stats payload.
type RunStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// LogStreamResponse carries structured log events for live tailing.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}
