package slides

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"lectern/internal/config"
)

const framePrefix = "slide-"

// buildExtractArgs assembles the ffmpeg invocation that picks scene-change
// frames and logs their timestamps through showinfo. The select expression
// gates candidates on the scene score and on the minimum spacing from the
// previously selected frame; isnan(prev_selected_t) lets the first candidate
// through. Log level stays at info because showinfo reports there.
func buildExtractArgs(cfg config.Slides, mediaPath, outputPattern string) []string {
	selectExpr := fmt.Sprintf(
		"select='gt(scene,%s)*(isnan(prev_selected_t)+gte(t-prev_selected_t,%d))',showinfo",
		formatThreshold(cfg.SceneThreshold), cfg.IntervalSeconds,
	)
	args := []string{
		"-hide_banner", "-nostdin", "-v", "info",
		"-i", mediaPath,
		"-vf", selectExpr,
		"-vsync", "vfr",
	}
	if cfg.MaxSlides > 0 {
		args = append(args, "-frames:v", strconv.Itoa(cfg.MaxSlides))
	}
	return append(args, "-y", outputPattern)
}

func formatThreshold(threshold float64) string {
	if threshold <= 0 {
		threshold = 0.3
	}
	return strconv.FormatFloat(threshold, 'f', -1, 64)
}

var showinfoPtsTime = regexp.MustCompile(`\bpts_time:([0-9]+(?:\.[0-9]+)?)`)

// parseShowinfoTimes extracts the per-frame pts_time values from ffmpeg's
// stderr. showinfo writes one line per selected frame; everything else on
// stderr is ignored.
func parseShowinfoTimes(output string) []float64 {
	var times []float64
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Parsed_showinfo") {
			continue
		}
		match := showinfoPtsTime.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			times = append(times, value)
		}
	}
	return times
}

// collectFrames returns the extracted frame files in numeric order. The
// zero-padded ffmpeg output pattern makes lexical order numeric order.
func collectFrames(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read slides dir: %w", err)
	}
	var frames []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, "."+ext) {
			continue
		}
		frames = append(frames, name)
	}
	slices.Sort(frames)
	paths := make([]string, len(frames))
	for i, name := range frames {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// clearFrames removes frame files left over from a previous extraction so a
// rerun never mixes old and new slides.
func clearFrames(dir, ext string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read slides dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, "."+ext) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove stale frame: %w", err)
		}
	}
	return nil
}
