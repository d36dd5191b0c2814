package api

import (
	"context"

	"lectern/internal/registry"
)

// RunReader abstracts registry reads needed for API queries.
type RunReader interface {
	List(ctx context.Context, filter registry.ListFilter) ([]*registry.Run, error)
	Stats(ctx context.Context) (map[registry.Status]int, error)
	RunByToken(ctx context.Context, runToken string) (*registry.Run, error)
	LatestRun(ctx context.Context, entityID string) (*registry.Run, error)
	LatestCompleted(ctx context.Context, entityID string) (*registry.Run, error)
}

// RunService exposes read-only run operations returning API DTOs.
type RunService struct {
	store RunReader
}

// NewRunService constructs a RunService around the provided reader.
func NewRunService(store RunReader) *RunService {
	if store == nil {
		return nil
	}
	return &RunService{store: store}
}

// List returns runs newest-first, optionally filtered by entity.
func (s *RunService) List(ctx context.Context, entityID string, limit int) ([]Run, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	runs, err := s.store.List(ctx, registry.ListFilter{EntityID: entityID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return FromRuns(runs), nil
}

// Stats returns run summary counts keyed by status string.
func (s *RunService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeRunStats(stats), nil
}

// Describe fetches a single run by its wire id.
func (s *RunService) Describe(ctx context.Context, runID string) (*Run, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	run, err := s.store.RunByToken(ctx, runID)
	if err != nil || run == nil {
		return nil, err
	}
	dto := FromRun(run)
	return &dto, nil
}

// EntityStatus builds the per-entity snapshot from the registry. Entities
// with no recorded runs report status "none".
func (s *RunService) EntityStatus(ctx context.Context, entityID string) (EntityStatus, error) {
	if s == nil || s.store == nil {
		return StatusForEntity(entityID, nil, nil), nil
	}
	latest, err := s.store.LatestRun(ctx, entityID)
	if err != nil {
		return EntityStatus{}, err
	}
	if latest == nil {
		return StatusForEntity(entityID, nil, nil), nil
	}
	completed := latest
	if latest.Status != registry.StatusCompleted {
		completed, err = s.store.LatestCompleted(ctx, entityID)
		if err != nil {
			return EntityStatus{}, err
		}
	}
	return StatusForEntity(entityID, latest, completed), nil
}
