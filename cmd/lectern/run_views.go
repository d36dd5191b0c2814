package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"lectern/internal/ipc"
)

func buildRunStatsRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildActiveRunRows(runs []ipc.ActiveRun) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.EntityID,
			shortRunID(run.RunID),
			strings.Join(run.Sources, ", "),
			formatDisplayTime(run.StartedAt),
		})
	}
	return rows
}

func buildRunListRows(runs []ipc.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.EntityID,
			shortRunID(run.RunID),
			formatStatusLabel(run.Status),
			fmt.Sprintf("%d", run.Version),
			strings.Join(run.Sources, ", "),
			formatDisplayTime(run.StartedAt),
			formatDisplayTime(run.FinishedAt),
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

// shortRunID trims UUID run ids to their first block for table display.
func shortRunID(runID string) string {
	runID = strings.TrimSpace(runID)
	if i := strings.IndexByte(runID, '-'); i > 0 && len(runID) >= 36 {
		return runID[:i]
	}
	return runID
}
