package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"lectern/internal/stream"
)

// eventPrinter renders envelopes as the session's read loop delivers them.
type eventPrinter struct {
	out io.Writer
}

func (p *eventPrinter) handle(env stream.Envelope) {
	switch env.Type {
	case stream.EventProgress:
		switch {
		case env.Progress != nil:
			fmt.Fprintf(p.out, "  [%s] %s: %s (%.0f%%)\n", env.Source, env.Phase, env.Message, *env.Progress)
		case env.Message != "":
			fmt.Fprintf(p.out, "  [%s] %s: %s\n", env.Source, env.Phase, env.Message)
		default:
			fmt.Fprintf(p.out, "  [%s] %s\n", env.Source, env.Phase)
		}
	case stream.EventPartial:
		if keys := fragmentKeys(env.Data); len(keys) > 0 {
			fmt.Fprintf(p.out, "  [%s] partial: %s\n", env.Source, strings.Join(keys, ", "))
		}
	case stream.EventResult:
		if keys := fragmentKeys(env.Data); len(keys) > 0 {
			fmt.Fprintf(p.out, "  [%s] result: %s\n", env.Source, strings.Join(keys, ", "))
		} else {
			fmt.Fprintf(p.out, "  [%s] result ready\n", env.Source)
		}
	case stream.EventSlide:
		if env.Slide != nil {
			fmt.Fprintf(p.out, "  [%s] slide %d at %s: %s\n", env.Source, env.Slide.Index, formatTimestamp(env.Slide.Timestamp), env.Slide.Image)
		}
	case stream.EventComplete:
		if env.Source == stream.SourceUnified {
			fmt.Fprintf(p.out, "Run %s completed (version %d)\n", env.RunID, env.Version)
		} else {
			fmt.Fprintf(p.out, "  [%s] done\n", env.Source)
		}
	case stream.EventError:
		if env.Source == stream.SourceUnified {
			fmt.Fprintf(p.out, "Run failed: %s\n", env.Message)
		} else {
			fmt.Fprintf(p.out, "  [%s] failed: %s\n", env.Source, env.Message)
		}
	}
}

// fragmentKeys lists the top-level keys of a JSON object fragment, sorted.
func fragmentKeys(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// indentJSON reformats raw JSON with two-space indentation, falling back to
// the raw bytes when the payload does not re-indent.
func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
