package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscript(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateSlides(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateTranscript() error {
	if c.Transcript.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/lectern/config.toml"
		}
		return fmt.Errorf("transcript.base_url is required. Set LECTERN_TRANSCRIPT_URL env var or edit %s (create with 'lectern config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Transcript.BaseURL, "http://") && !strings.HasPrefix(c.Transcript.BaseURL, "https://") {
		return fmt.Errorf("transcript.base_url must be an http(s) URL, got %q", c.Transcript.BaseURL)
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if !c.Analysis.Enabled {
		return nil
	}
	if c.AnalysisLLM().APIKey == "" {
		return errors.New("analysis requires an LLM API key. Set llm.api_key or OPENROUTER_API_KEY (or disable with analysis.enabled = false)")
	}
	for _, section := range c.Analysis.Sections {
		if _, ok := validAnalysisSections[section]; !ok {
			return fmt.Errorf("analysis.sections contains unknown section %q (valid: summary, takeaways, key_points, chapters)", section)
		}
	}
	return nil
}

func (c *Config) validateSlides() error {
	if !c.Slides.Enabled {
		return nil
	}
	if c.Slides.SceneThreshold > 1 {
		return errors.New("slides.scene_threshold must be between 0 and 1")
	}
	switch c.Slides.ImageFormat {
	case "jpg", "png":
	default:
		return fmt.Errorf("slides.image_format must be jpg or png, got %q", c.Slides.ImageFormat)
	}
	return nil
}

func (c *Config) validateRunner() error {
	if err := ensurePositiveMap(map[string]int{
		"runner.heartbeat_interval": c.Runner.HeartbeatInterval,
		"runner.heartbeat_timeout":  c.Runner.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Runner.HeartbeatTimeout <= c.Runner.HeartbeatInterval {
		return errors.New("runner.heartbeat_timeout must be greater than runner.heartbeat_interval")
	}
	for _, source := range c.Runner.DefaultSources {
		if _, ok := validRunnerSources[source]; !ok {
			return fmt.Errorf("runner.default_sources contains unknown source %q (valid: transcript, analysis, slides)", source)
		}
	}
	return nil
}

var validAnalysisSections = map[string]struct{}{
	"summary":    {},
	"takeaways":  {},
	"key_points": {},
	"chapters":   {},
}

var validRunnerSources = map[string]struct{}{
	"transcript": {},
	"analysis":   {},
	"slides":     {},
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
