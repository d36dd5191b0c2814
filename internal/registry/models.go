package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents the lifecycle of a task run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status ends a run's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DaemonStopReason is the error message recorded when active runs are failed
// because the daemon shut down.
const DaemonStopReason = "Daemon stopped"

// SupersededReason is the error message recorded when a newer start request
// cancels an active run.
const SupersededReason = "Superseded by a newer run"

// OrphanedReason is the error message recorded for active runs found at
// daemon startup; only one daemon can hold the lock, so those runs have no
// owning process anymore.
const OrphanedReason = "Orphaned by daemon restart"

// StaleHeartbeatReason is the error message recorded when a run stops sending
// heartbeats and is reclaimed.
const StaleHeartbeatReason = "Run heartbeat expired"

// Run is one execution instance of the ingest pipeline for an entity,
// persisted in SQLite.
type Run struct {
	ID            int64
	EntityID      string
	RunToken      string
	Status        Status
	Version       int64
	ParamsJSON    string
	ResultJSON    string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	LastHeartbeat *time.Time
}

// IsTerminal reports whether the run has finished, successfully or not.
func (r *Run) IsTerminal() bool {
	if r == nil {
		return false
	}
	return r.Status.IsTerminal()
}

// entityIDPattern bounds entity ids to a filesystem- and URL-safe shape.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateEntityID rejects ids that are empty, overlong, or carry characters
// unsafe for paths and URLs. The returned error wraps ErrInvalidEntityID.
func ValidateEntityID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	if !entityIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	return nil
}
