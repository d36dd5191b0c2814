package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscript()
	c.normalizeLLM()
	c.normalizeAnalysis()
	c.normalizeSlides()
	c.normalizeRunner()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SlidesDir) == "" {
		c.Paths.SlidesDir = defaultSlidesDir
	}
	if c.Paths.SlidesDir, err = expandPath(c.Paths.SlidesDir); err != nil {
		return fmt.Errorf("paths.slides_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeTranscript() {
	c.Transcript.BaseURL = strings.TrimSpace(c.Transcript.BaseURL)
	if c.Transcript.BaseURL == "" {
		if value, ok := os.LookupEnv("LECTERN_TRANSCRIPT_URL"); ok {
			c.Transcript.BaseURL = strings.TrimSpace(value)
		}
	}
	c.Transcript.BaseURL = strings.TrimSuffix(c.Transcript.BaseURL, "/")
	if value, ok := os.LookupEnv("TRANSCRIPT_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Transcript.APIKey = strings.TrimSpace(value)
	}
	c.Transcript.APIKey = strings.TrimSpace(c.Transcript.APIKey)
	c.Transcript.Languages = normalizeList(c.Transcript.Languages, []string{"en"})
	if c.Transcript.TimeoutSeconds <= 0 {
		c.Transcript.TimeoutSeconds = defaultTranscriptTimeout
	}
}

func (c *Config) normalizeLLM() {
	if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.LLM.APIKey = strings.TrimSpace(value)
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.APIKey = strings.TrimSpace(c.Analysis.APIKey)
	c.Analysis.BaseURL = strings.TrimSpace(c.Analysis.BaseURL)
	c.Analysis.Model = strings.TrimSpace(c.Analysis.Model)
	c.Analysis.Sections = normalizeList(c.Analysis.Sections, defaultAnalysisSections())
	if c.Analysis.MaxTranscriptChars <= 0 {
		c.Analysis.MaxTranscriptChars = defaultAnalysisMaxChars
	}
}

func (c *Config) normalizeSlides() {
	c.Slides.FFmpegBinary = strings.TrimSpace(c.Slides.FFmpegBinary)
	if c.Slides.FFmpegBinary == "" {
		c.Slides.FFmpegBinary = "ffmpeg"
	}
	c.Slides.FFprobeBinary = strings.TrimSpace(c.Slides.FFprobeBinary)
	if c.Slides.FFprobeBinary == "" {
		c.Slides.FFprobeBinary = "ffprobe"
	}
	if c.Slides.IntervalSeconds <= 0 {
		c.Slides.IntervalSeconds = defaultSlidesInterval
	}
	if c.Slides.SceneThreshold <= 0 {
		c.Slides.SceneThreshold = defaultSlidesSceneThreshold
	}
	if c.Slides.MaxSlides <= 0 {
		c.Slides.MaxSlides = defaultSlidesMax
	}
	c.Slides.ImageFormat = strings.ToLower(strings.TrimSpace(c.Slides.ImageFormat))
	switch c.Slides.ImageFormat {
	case "":
		c.Slides.ImageFormat = defaultSlidesImageFormat
	case "jpeg":
		c.Slides.ImageFormat = "jpg"
	}
}

func (c *Config) normalizeRunner() {
	if c.Runner.MaxConcurrentRuns <= 0 {
		c.Runner.MaxConcurrentRuns = defaultRunnerMaxConcurrentRuns
	}
	if c.Runner.SSEKeepaliveInterval <= 0 {
		c.Runner.SSEKeepaliveInterval = defaultRunnerKeepaliveInterval
	}
	c.Runner.DefaultSources = normalizeList(c.Runner.DefaultSources, defaultRunnerSources())
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// normalizeList lowercases, trims, and de-duplicates entries preserving
// order, substituting fallback when nothing survives.
func normalizeList(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
