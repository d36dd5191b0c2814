package preflight

import (
	"context"
	"strings"

	"lectern/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Media and slides directories back the slides source
	if cfg.Slides.Enabled {
		results = append(results, CheckDirectoryAccess("Media directory", cfg.Paths.MediaDir))
		results = append(results, CheckDirectoryAccess("Slides directory", cfg.Paths.SlidesDir))
	}

	// Caption provider
	if strings.TrimSpace(cfg.Transcript.BaseURL) != "" {
		results = append(results, CheckTranscriptAPI(ctx, cfg.Transcript.BaseURL, cfg.Transcript.APIKey))
	}

	// Analysis LLM
	if cfg.Analysis.Enabled {
		results = append(results, CheckLLM(ctx, "Analysis LLM", cfg.AnalysisLLM()))
	}

	return results
}
