package analysis

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"lectern/internal/services/llm"
)

// Chapter is one entry of the chapters section.
type Chapter struct {
	Title        string  `json:"title"`
	StartSeconds float64 `json:"start_seconds"`
}

// extractSectionValue pulls the section's value out of an LLM response and
// normalizes it into its canonical JSON form. Responses are expected to be an
// object keyed by the section name; a single-key object under a different
// name is tolerated because models occasionally rename the key.
func extractSectionValue(section, content string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := llm.DecodeLLMJSON(content, &fields); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", section, err)
	}
	raw, ok := fields[section]
	if !ok && len(fields) == 1 {
		for _, value := range fields {
			raw = value
			ok = true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%s response has no %q key (keys: %s)", section, section, joinKeys(fields))
	}
	switch section {
	case SectionSummary:
		return normalizeSummary(raw)
	case SectionTakeaways, SectionKeyPoints:
		return normalizeList(section, raw)
	case SectionChapters:
		return normalizeChapters(raw)
	default:
		return nil, fmt.Errorf("unknown section %q", section)
	}
}

func normalizeSummary(raw json.RawMessage) (json.RawMessage, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("summary is not a string: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("summary is empty")
	}
	return json.Marshal(text)
}

func normalizeList(section string, raw json.RawMessage) (json.RawMessage, error) {
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s is not a string array: %w", section, err)
	}
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%s has no items", section)
	}
	return json.Marshal(cleaned)
}

func normalizeChapters(raw json.RawMessage) (json.RawMessage, error) {
	var chapters []Chapter
	if err := json.Unmarshal(raw, &chapters); err != nil {
		return nil, fmt.Errorf("chapters is not a chapter array: %w", err)
	}
	cleaned := make([]Chapter, 0, len(chapters))
	for _, chapter := range chapters {
		chapter.Title = strings.TrimSpace(chapter.Title)
		if chapter.Title == "" || chapter.StartSeconds < 0 {
			continue
		}
		cleaned = append(cleaned, chapter)
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("chapters has no entries")
	}
	slices.SortStableFunc(cleaned, func(a, b Chapter) int {
		return cmp.Compare(a.StartSeconds, b.StartSeconds)
	})
	return json.Marshal(cleaned)
}

func joinKeys(fields map[string]json.RawMessage) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}
