package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"lectern/internal/config"
)

// CheckTranscriptFromConfig evaluates caption provider status from config and connectivity.
func CheckTranscriptFromConfig(cfg *config.Config) Result {
	const name = "Transcript API"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Transcript.BaseURL) == "" {
		return Result{Name: name, Detail: "Not configured"}
	}
	return CheckTranscriptAPI(context.Background(), cfg.Transcript.BaseURL, cfg.Transcript.APIKey)
}

// CheckAnalysisFromConfig evaluates analysis LLM status from config and connectivity.
func CheckAnalysisFromConfig(cfg *config.Config) Result {
	const name = "Analysis LLM"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Analysis.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	llmCfg := cfg.AnalysisLLM()
	if strings.TrimSpace(llmCfg.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	return CheckLLM(context.Background(), name, llmCfg)
}

// CheckSlidesFromConfig evaluates slide extraction tooling readiness.
func CheckSlidesFromConfig(cfg *config.Config) Result {
	const name = "Slides"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Slides.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	for _, binary := range []string{
		fallbackBinary(cfg.Slides.FFmpegBinary, "ffmpeg"),
		fallbackBinary(cfg.Slides.FFprobeBinary, "ffprobe"),
	} {
		if _, err := exec.LookPath(binary); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("binary %q not found", binary)}
		}
	}
	return Result{Name: name, Passed: true, Detail: "ffmpeg and ffprobe available"}
}

func fallbackBinary(configured, fallback string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return fallback
}
