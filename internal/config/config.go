package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"lectern/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	MediaDir  string `toml:"media_dir"`
	SlidesDir string `toml:"slides_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Transcript contains configuration for the caption provider API.
type Transcript struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Languages      []string `toml:"languages"`
	PreferManual   bool     `toml:"prefer_manual"`
}

// LLM contains shared LLM connection settings used by multiple features.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Analysis contains configuration for transcript analysis.
type Analysis struct {
	// Enabled controls whether the analysis source is available to runs.
	Enabled bool `toml:"enabled"`
	// Sections lists the analysis sections to produce. Valid values:
	// summary, takeaways, key_points, chapters.
	Sections []string `toml:"sections"`
	// MaxTranscriptChars caps how much transcript text is sent per request.
	MaxTranscriptChars int `toml:"max_transcript_chars"`
	// LLM settings - if not set, falls back to [llm] settings
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Slides contains configuration for slide frame extraction.
type Slides struct {
	Enabled         bool    `toml:"enabled"`
	FFmpegBinary    string  `toml:"ffmpeg_binary"`
	FFprobeBinary   string  `toml:"ffprobe_binary"`
	IntervalSeconds int     `toml:"interval_seconds"`
	SceneThreshold  float64 `toml:"scene_threshold"`
	MaxSlides       int     `toml:"max_slides"`
	ImageFormat     string  `toml:"image_format"`
}

// Runner contains configuration for run scheduling and stream timing.
type Runner struct {
	MaxConcurrentRuns    int      `toml:"max_concurrent_runs"`
	HeartbeatInterval    int      `toml:"heartbeat_interval"`
	HeartbeatTimeout     int      `toml:"heartbeat_timeout"`
	SSEKeepaliveInterval int      `toml:"sse_keepalive_interval"`
	DefaultSources       []string `toml:"default_sources"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	// SourceOverrides raises or lowers the log level for a single source,
	// e.g. slides = "debug" while chasing an ffmpeg issue.
	SourceOverrides map[string]string `toml:"source_overrides"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Runs           bool   `toml:"runs"`
	Errors         bool   `toml:"errors"`
}

// Config encapsulates all configuration values for Lectern.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Transcript: caption provider API connection and track preferences
//   - LLM: shared LLM connection settings for features that need AI
//   - Analysis: transcript analysis sections and limits
//   - Slides: ffmpeg/ffprobe frame extraction settings
//   - Runner: run concurrency, heartbeats, and stream keepalives
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Transcript    Transcript    `toml:"transcript"`
	LLM           LLM           `toml:"llm"`
	Analysis      Analysis      `toml:"analysis"`
	Slides        Slides        `toml:"slides"`
	Runner        Runner        `toml:"runner"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lectern/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/lectern/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lectern.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// MediaDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.SlidesDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Paths.MediaDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = fileutil.EnsureDir(c.Paths.MediaDir)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := fileutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := fileutil.WriteFileAtomic(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across features.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// AnalysisLLM returns the LLM settings for transcript analysis.
// Falls back to [llm] settings when not explicitly configured.
func (c *Config) AnalysisLLM() LLMConfig {
	cfg := LLMConfig{
		APIKey:         strings.TrimSpace(c.Analysis.APIKey),
		BaseURL:        strings.TrimSpace(c.Analysis.BaseURL),
		Model:          strings.TrimSpace(c.Analysis.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          defaultAnalysisTitle,
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
	// Fall back to [llm] settings for connection details
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(c.LLM.APIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	}
	if cfg.Model == "" {
		cfg.Model = strings.TrimSpace(c.LLM.Model)
	}
	return cfg
}
