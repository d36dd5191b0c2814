package deps

import (
	"os"
	"path/filepath"
	"testing"

	"lectern/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
}

func TestCheckBinariesUnconfigured(t *testing.T) {
	results := CheckBinaries([]Requirement{{Name: "Empty", Command: "   "}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Available {
		t.Fatal("expected unconfigured command to be unavailable")
	}
	if results[0].Detail != "command not configured" {
		t.Fatalf("unexpected detail: %s", results[0].Detail)
	}
}

func TestDefaultRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Slides.FFmpegBinary = "/opt/ffmpeg/bin/ffmpeg"
	cfg.Slides.Enabled = true

	reqs := DefaultRequirements(&cfg)
	byName := make(map[string]Requirement, len(reqs))
	for _, req := range reqs {
		byName[req.Name] = req
	}

	ffmpeg, ok := byName["FFmpeg"]
	if !ok {
		t.Fatal("expected FFmpeg requirement")
	}
	if ffmpeg.Command != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected configured ffmpeg binary, got %q", ffmpeg.Command)
	}
	if ffmpeg.Optional {
		t.Fatal("ffmpeg should be required while slides are enabled")
	}

	ytdlp, ok := byName["yt-dlp"]
	if !ok {
		t.Fatal("expected yt-dlp requirement")
	}
	if !ytdlp.Optional {
		t.Fatal("yt-dlp should always be optional")
	}
}

func TestDefaultRequirementsSlidesDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Slides.Enabled = false

	for _, req := range DefaultRequirements(&cfg) {
		if (req.Name == "FFmpeg" || req.Name == "FFprobe") && !req.Optional {
			t.Fatalf("%s should be optional with slides disabled", req.Name)
		}
	}
}
