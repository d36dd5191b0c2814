package runner

import (
	"context"
	"encoding/json"

	"lectern/internal/stream"
)

// Request carries the inputs a source handler needs to execute one run.
type Request struct {
	EntityID string
	RunToken string
	Sources  []stream.Source
	Options  json.RawMessage
	Exchange *Exchange
}

// HasSource reports whether the run includes the given source.
func (r Request) HasSource(s stream.Source) bool {
	for _, candidate := range r.Sources {
		if candidate == s {
			return true
		}
	}
	return false
}

// SourceRunner describes the contract the runner needs from each source.
//
// Prepare performs cheap local validation before the run transitions to
// running. Execute does the work, publishing progress through the emitter and
// returning the source's payload as a JSON object fragment; the runner merges
// the fragments of all sources into the run artifact. Handlers never publish
// terminal events themselves, the runner emits exactly one per source after
// Execute returns.
type SourceRunner interface {
	Source() stream.Source
	Prepare(ctx context.Context, req Request) error
	Execute(ctx context.Context, req Request, em *Emitter) (json.RawMessage, error)
	HealthCheck(ctx context.Context) Health
}

// Health summarizes the readiness of a source handler.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
