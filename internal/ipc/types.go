package ipc

import "lectern/internal/api"

// PingRequest probes daemon liveness.
type PingRequest struct{}

// PingResponse carries the daemon process id.
type PingResponse struct {
	PID int `json:"pid"`
}

// StopRequest shuts the daemon down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// Run mirrors the HTTP API run DTO for IPC callers.
type Run = api.Run

// ActiveRun mirrors the HTTP API active-run DTO.
type ActiveRun = api.ActiveRun

// EntityStatus mirrors the HTTP API per-entity snapshot.
type EntityStatus = api.EntityStatus

// SourceHealth describes readiness of a source handler.
type SourceHealth = api.SourceHealth

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// StatusResponse represents combined daemon/runner status information.
type StatusResponse struct {
	Running        bool               `json:"running"`
	PID            int                `json:"pid"`
	RunStats       map[string]int     `json:"run_stats"`
	ActiveRuns     []ActiveRun        `json:"active_runs"`
	SourceHealth   []SourceHealth     `json:"source_health"`
	RegistryDBPath string             `json:"registry_db_path"`
	LockPath       string             `json:"lock_path"`
	APIBind        string             `json:"api_bind"`
	Dependencies   []DependencyStatus `json:"dependencies"`
}

// RunListRequest filters run listing by entity and caps the result size.
type RunListRequest struct {
	EntityID string `json:"entity_id"`
	Limit    int    `json:"limit"`
}

// RunListResponse contains run records, newest first.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunDescribeRequest fetches the status snapshot for one entity.
type RunDescribeRequest struct {
	EntityID string `json:"entity_id"`
}

// RunDescribeResponse contains the entity's latest run state and durable
// artifact.
type RunDescribeResponse struct {
	Status EntityStatus `json:"status"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
