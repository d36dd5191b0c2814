package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"lectern/internal/config"
)

// Requirement defines an external dependency lectern relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// DefaultRequirements returns the external binary set for the given
// configuration. ffmpeg and ffprobe are required only while slide
// extraction is enabled; yt-dlp is always optional.
func DefaultRequirements(cfg *config.Config) []Requirement {
	ffmpeg := "ffmpeg"
	ffprobe := "ffprobe"
	slidesEnabled := true
	if cfg != nil {
		if cmd := strings.TrimSpace(cfg.Slides.FFmpegBinary); cmd != "" {
			ffmpeg = cmd
		}
		if cmd := strings.TrimSpace(cfg.Slides.FFprobeBinary); cmd != "" {
			ffprobe = cmd
		}
		slidesEnabled = cfg.Slides.Enabled
	}

	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpeg,
			Description: "Scene-change frame extraction for slides",
			Optional:    !slidesEnabled,
		},
		{
			Name:        "FFprobe",
			Command:     ffprobe,
			Description: "Media inspection before slide extraction",
			Optional:    !slidesEnabled,
		},
		{
			Name:        "yt-dlp",
			Command:     "yt-dlp",
			Description: "Fallback transcript fetcher",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
