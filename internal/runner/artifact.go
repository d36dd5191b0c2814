package runner

import (
	"encoding/json"
	"fmt"

	"lectern/internal/stream"
)

// mergeArtifact combines per-source payload fragments into the run-level
// artifact. Every fragment must be a JSON object; keys from later sources
// overwrite earlier ones, following the same shallow last-write-wins merge
// clients apply to partial events.
func mergeArtifact(order []stream.Source, fragments map[stream.Source]json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	for _, src := range order {
		fragment, ok := fragments[src]
		if !ok || len(fragment) == 0 {
			continue
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(fragment, &keys); err != nil {
			return nil, fmt.Errorf("source %s payload is not a JSON object: %w", src, err)
		}
		for key, value := range keys {
			merged[key] = value
		}
	}
	artifact, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode run artifact: %w", err)
	}
	return artifact, nil
}
