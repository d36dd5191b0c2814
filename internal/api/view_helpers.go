package api

import (
	"encoding/json"
	"slices"
)

// ResultSections returns the top-level section keys of a result artifact in
// sorted order.
func ResultSections(resultJSON string) []string {
	if resultJSON == "" {
		return nil
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resultJSON), &sections); err != nil {
		return nil
	}
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ResultField extracts a top-level string field from a result artifact.
func ResultField(resultJSON, field, fallback string) string {
	if resultJSON == "" {
		return fallback
	}
	var sections map[string]any
	if err := json.Unmarshal([]byte(resultJSON), &sections); err != nil {
		return fallback
	}
	value, ok := sections[field].(string)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// ResultSectionField extracts a string field nested inside one section of a
// result artifact, e.g. the transcript section's language.
func ResultSectionField(resultJSON, section, field, fallback string) string {
	if resultJSON == "" {
		return fallback
	}
	var sections map[string]map[string]any
	if err := json.Unmarshal([]byte(resultJSON), &sections); err != nil {
		return fallback
	}
	value, ok := sections[section][field].(string)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// ResultSummary extracts the analysis summary from a result artifact.
func ResultSummary(resultJSON string) string {
	return ResultField(resultJSON, "summary", "")
}

// ResultSlideCount extracts the extracted-slide count from a result artifact.
func ResultSlideCount(resultJSON string) int {
	if resultJSON == "" {
		return 0
	}
	var sections map[string]map[string]any
	if err := json.Unmarshal([]byte(resultJSON), &sections); err != nil {
		return 0
	}
	count, ok := sections["slides"]["count"].(float64)
	if !ok {
		return 0
	}
	return int(count)
}
