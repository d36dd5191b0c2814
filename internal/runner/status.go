package runner

import (
	"context"

	"lectern/internal/logging"
	"lectern/internal/registry"
)

// StatusSummary represents lightweight runner diagnostics.
type StatusSummary struct {
	Running      bool
	RunStats     map[registry.Status]int
	Active       []*Handle
	SourceHealth map[string]Health
}

// Status returns the latest runner information.
func (r *Runner) Status(ctx context.Context) StatusSummary {
	summary := StatusSummary{
		Running:      r.Running(),
		Active:       r.ActiveHandles(),
		SourceHealth: r.Health(ctx),
	}

	stats, err := r.store.Stats(ctx)
	if err != nil {
		r.logger.Warn("failed to read run stats", logging.Error(err))
	} else {
		summary.RunStats = stats
	}
	return summary
}
