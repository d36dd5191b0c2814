package slides

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lectern/internal/config"
	"lectern/internal/fileutil"
	"lectern/internal/logging"
	"lectern/internal/media/ffprobe"
	"lectern/internal/runner"
	"lectern/internal/services"
	"lectern/internal/stream"
	"lectern/internal/textutil"
)

const manifestName = "manifest.json"

var mediaExtensions = []string{"mp4", "mkv", "webm", "mov", "m4v"}

// Service implements the slides source: it probes the entity's media file,
// extracts scene-change frames with ffmpeg into the slides directory, and
// emits one slide event per extracted frame.
type Service struct {
	cfg       config.Slides
	mediaDir  string
	slidesDir string
	logger    *slog.Logger
	run       func(ctx context.Context, name string, args ...string) (string, error)
	probe     func(ctx context.Context, binary, path string) (ffprobe.Result, error)
}

// NewService builds the slides source handler from the daemon configuration.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	svc := &Service{
		cfg:       cfg.Slides,
		mediaDir:  cfg.Paths.MediaDir,
		slidesDir: cfg.Paths.SlidesDir,
		logger:    logging.NewComponentLogger(logger, "slides"),
		probe:     ffprobe.Inspect,
	}
	svc.run = svc.runCommand
	return svc
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(run func(ctx context.Context, name string, args ...string) (string, error)) {
	s.run = run
}

// WithProber sets a custom media prober (for testing).
func (s *Service) WithProber(probe func(ctx context.Context, binary, path string) (ffprobe.Result, error)) {
	s.probe = probe
}

// Source returns the stream tag this handler emits under.
func (s *Service) Source() stream.Source {
	return stream.SourceSlides
}

// Prepare verifies the handler is configured and the entity's media file is
// present before the run starts.
func (s *Service) Prepare(ctx context.Context, req runner.Request) error {
	if !s.cfg.Enabled {
		return services.Wrap(services.ErrConfiguration, "slides", "prepare", "slides are disabled (slides.enabled = false)", nil)
	}
	_, err := s.locateMedia(req.EntityID)
	return err
}

// Execute extracts slides and returns the artifact fragment. Slide events are
// emitted after ffmpeg finishes, once the frame files are durable on disk.
func (s *Service) Execute(ctx context.Context, req runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	mediaPath, err := s.locateMedia(req.EntityID)
	if err != nil {
		return nil, err
	}

	em.ProgressAt("probe", "probing media file", 5)
	probed, err := s.probe(ctx, s.cfg.FFprobeBinary, mediaPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "slides", "probe", "ffprobe failed", err)
	}
	if probed.VideoStreamCount() == 0 {
		return nil, services.Wrap(services.ErrValidation, "slides", "probe",
			fmt.Sprintf("%s has no video stream", filepath.Base(mediaPath)), nil)
	}

	ext := s.imageExt()
	outDir := filepath.Join(s.slidesDir, textutil.SanitizeToken(req.EntityID))
	if err := fileutil.EnsureDir(outDir); err != nil {
		return nil, fmt.Errorf("slides dir: %w", err)
	}
	if err := clearFrames(outDir, ext); err != nil {
		return nil, err
	}

	em.ProgressAt("extract", fmt.Sprintf("detecting scene changes (threshold %s)", formatThreshold(s.cfg.SceneThreshold)), 15)
	pattern := filepath.Join(outDir, framePrefix+"%03d."+ext)
	output, err := s.run(ctx, s.cfg.FFmpegBinary, buildExtractArgs(s.cfg, mediaPath, pattern)...)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "slides", "extract", "ffmpeg failed", err)
	}

	em.ProgressAt("collect", "collecting extracted frames", 80)
	times := parseShowinfoTimes(output)
	frames, err := collectFrames(outDir, ext)
	if err != nil {
		return nil, err
	}
	if len(times) != len(frames) {
		s.logger.Warn("frame files and showinfo timestamps disagree",
			logging.String(logging.FieldEntityID, req.EntityID),
			logging.Int("frames", len(frames)),
			logging.Int("timestamps", len(times)),
		)
	}

	items := make([]stream.Slide, 0, len(frames))
	for i, frame := range frames {
		var timestamp float64
		if i < len(times) {
			timestamp = times[i]
		}
		items = append(items, stream.Slide{Index: i + 1, Timestamp: timestamp, Image: frame})
	}
	for _, item := range items {
		em.Slide(item)
	}

	if err := s.writeManifest(outDir, req.EntityID, items); err != nil {
		return nil, err
	}
	em.ProgressAt("manifest", "slides ready", 95)

	s.logger.Info("slides extracted",
		logging.String(logging.FieldEntityID, req.EntityID),
		logging.Int("slides", len(items)),
		logging.Float64("media_duration", probed.DurationSeconds()),
		logging.String("directory", outDir),
	)
	return json.Marshal(map[string]slidesPayload{"slides": {
		Count:     len(items),
		Directory: outDir,
		Items:     items,
	}})
}

// HealthCheck reports whether the extraction binaries are available.
func (s *Service) HealthCheck(ctx context.Context) runner.Health {
	if !s.cfg.Enabled {
		return runner.Unhealthy("slides", "slides.enabled is false")
	}
	for _, binary := range []string{s.cfg.FFmpegBinary, s.cfg.FFprobeBinary} {
		if _, err := exec.LookPath(binary); err != nil {
			return runner.Unhealthy("slides", fmt.Sprintf("%s not found in PATH", binary))
		}
	}
	return runner.Healthy("slides")
}

type slidesPayload struct {
	Count     int            `json:"count"`
	Directory string         `json:"directory"`
	Items     []stream.Slide `json:"items"`
}

type manifest struct {
	Entity          string         `json:"entity"`
	Count           int            `json:"count"`
	IntervalSeconds int            `json:"interval_seconds"`
	SceneThreshold  float64        `json:"scene_threshold"`
	Items           []stream.Slide `json:"items"`
}

func (s *Service) writeManifest(outDir, entityID string, items []stream.Slide) error {
	data, err := json.MarshalIndent(manifest{
		Entity:          entityID,
		Count:           len(items),
		IntervalSeconds: s.cfg.IntervalSeconds,
		SceneThreshold:  s.cfg.SceneThreshold,
		Items:           items,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(outDir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *Service) locateMedia(entityID string) (string, error) {
	if err := validateEntityID(entityID); err != nil {
		return "", err
	}
	if strings.TrimSpace(s.mediaDir) == "" {
		return "", services.Wrap(services.ErrConfiguration, "slides", "locate", "paths.media_dir is not configured", nil)
	}
	for _, ext := range mediaExtensions {
		path := filepath.Join(s.mediaDir, entityID+"."+ext)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", services.Wrap(services.ErrNotFound, "slides", "locate",
		fmt.Sprintf("no media file for %s in %s (expected %s.{%s})",
			entityID, s.mediaDir, entityID, strings.Join(mediaExtensions, ",")), nil)
}

// validateEntityID rejects ids that would escape the media directory when
// joined into a path.
func validateEntityID(entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return services.Wrap(services.ErrValidation, "slides", "locate", "entity id required", nil)
	}
	if entityID != filepath.Base(entityID) || entityID == "." || entityID == ".." {
		return services.Wrap(services.ErrValidation, "slides", "locate",
			fmt.Sprintf("entity id %q must not contain path separators", entityID), nil)
	}
	return nil
}

func (s *Service) imageExt() string {
	ext := strings.ToLower(strings.TrimSpace(s.cfg.ImageFormat))
	if ext == "" {
		return "jpg"
	}
	return ext
}

func (s *Service) runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("%s: %w: %s", name, err, lastOutputLine(stderr.String()))
	}
	return stderr.String(), nil
}

func lastOutputLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
