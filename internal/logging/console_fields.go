package logging

import (
	"log/slog"
	"strings"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 8

var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldDecisionType,
	"entity_title",
	"channel",
	"processing_status",
	FieldProgressStage,
	FieldProgressPercent,
	FieldProgressMessage,
	FieldProgressETA,
	"command",
	"error_message",
	FieldErrorCode,
	FieldErrorHint,
	FieldErrorDetailPath,
	"status",
	"media_kind",
	"duration_minutes",
	"transcript_language",
	"transcript_track",
	"track_kind",
	"cue_count",
	"transcript_chars",
	"analysis_model",
	"section",
	"analysis_sections",
	"sections_completed",
	"slide_count",
	"slide_image",
	"slide_interval",
	"scene_threshold",
	"video_duration",
	"decision_result",
	"decision_selected",
	"decision_candidates",
	"decision_rejects",
	// Run summary fields
	"stage_duration",
	"fetch_duration",
	"analysis_duration",
	"extract_duration",
	"transcript_bytes",
	"artifact_bytes",
	"slides_bytes",
	"sources_completed",
	"sources_failed",
	"run_version",
	"superseded_run",
	"cache_used",
	"reason",
}

// selectInfoFields returns formatted info-level fields and a count of hidden entries.
// limit=0 means no limit. includeDebug controls whether debug-only keys are allowed.
func selectInfoFields(attrs []kv, limit int, includeDebug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	if limit < 0 {
		limit = 0
	}
	used := make([]bool, len(attrs))
	formatted := make([]string, len(attrs))
	formattedSet := make([]bool, len(attrs))
	ensureValue := func(idx int) string {
		if !formattedSet[idx] {
			formatted[idx] = formatValueForKeyWithAttrs(attrs[idx].key, attrs[idx].value, attrs)
			formattedSet[idx] = true
		}
		return formatted[idx]
	}
	result := make([]infoField, 0, infoAttrLimit)
	hidden := 0

	for _, key := range infoHighlightKeys {
		if limit > 0 && len(result) >= limit {
			break
		}
		for idx, attr := range attrs {
			if used[idx] || attr.key != key {
				continue
			}
			used[idx] = true
			if skipInfoKey(attr.key) {
				break
			}
			if !includeDebug && isDebugOnlyKey(attr.key) {
				hidden++
				break
			}
			val := ensureValue(idx)
			if !includeDebug && shouldHideInfoValue(attr.key, val) {
				hidden++
				break
			}
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
			break
		}
	}

	for idx, attr := range attrs {
		if used[idx] {
			continue
		}
		used[idx] = true
		if skipInfoKey(attr.key) {
			continue
		}
		if !includeDebug && isDebugOnlyKey(attr.key) {
			hidden++
			continue
		}
		val := ensureValue(idx)
		if !includeDebug && shouldHideInfoValue(attr.key, val) {
			hidden++
			continue
		}
		if limit <= 0 || len(result) < limit {
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
		} else if limit > 0 {
			hidden++
		}
	}

	return result, hidden
}

// formatValueForKeyWithAttrs applies smart formatting based on the key name.
func formatValueForKeyWithAttrs(key string, v slog.Value, attrs []kv) string {
	v = v.Resolve()

	// Handle byte sizes
	if isByteSizeKey(key) && (v.Kind() == slog.KindInt64 || v.Kind() == slog.KindUint64) {
		var bytes int64
		if v.Kind() == slog.KindInt64 {
			bytes = v.Int64()
		} else {
			bytes = int64(v.Uint64())
		}
		return formatBytes(bytes)
	}

	// Handle durations
	if isDurationKey(key) && v.Kind() == slog.KindDuration {
		return formatDurationHuman(v.Duration())
	}

	// Handle percentages
	if isPercentKey(key) && v.Kind() == slog.KindFloat64 {
		return formatPercent(v.Float64())
	}

	// Handle booleans with friendlier display
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}

	value := formatValue(v)
	if key == "error" || key == "error_message" {
		detailPath := attrValue(attrs, FieldErrorDetailPath)
		value = truncateErrorValue(value, detailPath)
	}
	return value
}

// isByteSizeKey returns true if the key represents a byte size.
func isByteSizeKey(key string) bool {
	return strings.HasSuffix(key, "_bytes") ||
		strings.HasSuffix(key, "_size") ||
		key == "size"
}

// isDurationKey returns true if the key represents a duration.
func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_duration") ||
		strings.HasSuffix(key, "_elapsed") ||
		strings.HasSuffix(key, "_latency") ||
		key == "elapsed" ||
		key == "duration" ||
		key == "backoff"
}

// isPercentKey returns true if the key represents a percentage.
func isPercentKey(key string) bool {
	return strings.HasSuffix(key, "_percent") ||
		strings.HasSuffix(key, "_ratio_percent") ||
		key == FieldProgressPercent
}

func truncateErrorValue(value, detailPath string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	const maxLen = 200
	if len(value) > maxLen {
		value = value[:maxLen] + "…"
	}
	if strings.TrimSpace(detailPath) != "" {
		if !strings.Contains(value, "error_detail_path") && !strings.Contains(value, "detail_path") {
			value += " (see error_detail_path)"
		}
	}
	return value
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldEntityID, FieldRunID, FieldSource, "component":
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	if key == "" {
		return true
	}
	switch key {
	case FieldCorrelationID,
		"base_url",
		"request_url",
		"user_agent",
		"etag",
		"content_type",
		"http_method",
		"cue_index",
		"cue_window",
		"retry_attempt",
		"retry_after",
		"busy_retries",
		"schema_version",
		"keepalive_interval",
		"languages_available",
		"prompt_chars",
		"response_chars",
		"frame_index",
		"scene_score",
		"sequence",
		"heartbeat_interval",
		"heartbeat_timeout":
		return true
	}
	if strings.Contains(key, "correlation") {
		return true
	}
	if strings.HasSuffix(key, "_id") && key != FieldEntityID && key != FieldRunID {
		return true
	}
	if strings.HasSuffix(key, "_tokens") {
		return true
	}
	if strings.HasPrefix(key, "ffprobe.") {
		return true
	}
	if strings.Contains(key, "_path") || strings.Contains(key, "_dir") {
		return true
	}
	if strings.Contains(key, "fingerprint") {
		return true
	}
	return false
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error_message", "error", "command", "reason":
		return false
	}
	return len(value) > 120
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldDecisionType:
		return "Decision"
	case FieldErrorCode:
		return "Error Code"
	case FieldErrorHint:
		return "Hint"
	case FieldErrorDetailPath:
		return "Error Detail"
	case FieldEntityID:
		return "Entity"
	case FieldSource:
		return "Source"
	case "entity_title":
		return "Title"
	case "channel":
		return "Channel"
	case "processing_status":
		return "Status"
	case "progress_stage":
		return "Progress Stage"
	case "progress_message":
		return "Progress"
	case "media_kind":
		return "Type"
	case "duration_minutes":
		return "Runtime"
	case "transcript_language":
		return "Language"
	case "transcript_track":
		return "Track"
	case "track_kind":
		return "Track Kind"
	case "cue_count":
		return "Cues"
	case "transcript_chars":
		return "Characters"
	case "analysis_model":
		return "Model"
	case "analysis_sections":
		return "Sections"
	case "sections_completed":
		return "Sections"
	case "slide_count":
		return "Slides"
	case "slide_image":
		return "Slide"
	case "slide_interval":
		return "Interval"
	case "scene_threshold":
		return "Threshold"
	case "video_duration":
		return "Video Length"
	// Run summary fields - concise labels
	case "stage_duration":
		return "Duration"
	case "fetch_duration":
		return "Fetch Time"
	case "analysis_duration":
		return "Analysis Time"
	case "extract_duration":
		return "Extract Time"
	case "transcript_bytes":
		return "Transcript Size"
	case "artifact_bytes":
		return "Artifact Size"
	case "slides_bytes":
		return "Slides Size"
	case "sources_completed":
		return "Completed"
	case "sources_failed":
		return "Failed"
	case "run_version":
		return "Version"
	case "superseded_run":
		return "Superseded"
	case "cache_used":
		return "Cache Hit"
	case "decision_result":
		return "Decision"
	case "decision_selected":
		return "Selected"
	case "decision_candidates":
		return "Candidates"
	case "decision_rejects":
		return "Rejected"
	case "reason":
		return "Reason"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	if key == "" {
		return ""
	}
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
	}
	for i, part := range parts {
		parts[i] = capitalizeASCII(part)
	}
	return strings.Join(parts, " ")
}

func capitalizeASCII(value string) string {
	switch len(value) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(value)
	default:
		lower := strings.ToLower(value)
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
}

func infoSummaryKey(component, entityID string, attrs []kv) string {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		if title := attrValue(attrs, "entity_title"); title != "" {
			entityID = "title:" + title
		} else if component != "" {
			entityID = component
		}
	}
	return entityID
}

func attrValue(attrs []kv, key string) string {
	for _, kv := range attrs {
		if kv.key == key {
			return attrString(kv.value)
		}
	}
	return ""
}
