package api

import (
	"encoding/json"
	"slices"
	"time"

	"lectern/internal/registry"
	"lectern/internal/runner"
)

// FromRun converts a registry record to its API representation.
func FromRun(run *registry.Run) Run {
	if run == nil {
		return Run{}
	}

	dto := Run{
		EntityID:     run.EntityID,
		RunID:        run.RunToken,
		Status:       string(run.Status),
		Version:      run.Version,
		Sources:      parseRunSources(run.ParamsJSON),
		ErrorMessage: run.ErrorMessage,
	}
	if run.ResultJSON != "" {
		dto.Result = json.RawMessage(run.ResultJSON)
	}
	if !run.CreatedAt.IsZero() {
		dto.CreatedAt = run.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !run.UpdatedAt.IsZero() {
		dto.UpdatedAt = run.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	dto.StartedAt = formatOptionalTime(run.StartedAt)
	dto.FinishedAt = formatOptionalTime(run.FinishedAt)
	return dto
}

// FromRuns converts a slice of registry records into API DTOs.
func FromRuns(runs []*registry.Run) []Run {
	if len(runs) == 0 {
		return nil
	}
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// StatusForEntity builds the status payload for one entity. latest is the
// entity's newest run of any status, latestCompleted its newest completed
// run; either may be nil.
func StatusForEntity(entityID string, latest, latestCompleted *registry.Run) EntityStatus {
	status := EntityStatus{EntityID: entityID, Status: StatusNone}
	if latest == nil {
		return status
	}

	status.Status = string(latest.Status)
	status.RunID = latest.RunToken
	status.ErrorMessage = latest.ErrorMessage
	if !latest.UpdatedAt.IsZero() {
		status.UpdatedAt = latest.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if latestCompleted != nil {
		status.Version = latestCompleted.Version
		if latestCompleted.ResultJSON != "" {
			status.Result = json.RawMessage(latestCompleted.ResultJSON)
		}
	}
	return status
}

// FromHandle converts a live run handle into its API summary.
func FromHandle(handle *runner.Handle) ActiveRun {
	if handle == nil {
		return ActiveRun{}
	}
	sources := make([]string, 0, len(handle.Sources))
	for _, src := range handle.Sources {
		sources = append(sources, string(src))
	}
	active := ActiveRun{
		EntityID: handle.EntityID,
		RunID:    handle.RunToken,
		Sources:  sources,
	}
	if !handle.Started.IsZero() {
		active.StartedAt = handle.Started.UTC().Format(dateTimeFormat)
	}
	return active
}

// FromHandles converts live handles, ordered by entity id for stable output.
func FromHandles(handles []*runner.Handle) []ActiveRun {
	if len(handles) == 0 {
		return nil
	}
	out := make([]ActiveRun, 0, len(handles))
	for _, handle := range handles {
		out = append(out, FromHandle(handle))
	}
	slices.SortFunc(out, func(a, b ActiveRun) int {
		if a.EntityID < b.EntityID {
			return -1
		}
		if a.EntityID > b.EntityID {
			return 1
		}
		return 0
	})
	return out
}

// MergeRunStats produces a string-keyed representation of run stats.
func MergeRunStats(stats map[registry.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// SourceHealthSlice converts a source health map into a deterministic slice.
func SourceHealthSlice(health map[string]runner.Health) []SourceHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]SourceHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, SourceHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

func parseRunSources(paramsJSON string) []string {
	if paramsJSON == "" {
		return nil
	}
	var params struct {
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return nil
	}
	return params.Sources
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
