package config

const (
	defaultDataDir                 = "~/.local/share/lectern"
	defaultLogDir                  = "~/.local/share/lectern/logs"
	defaultMediaDir                = "~/.local/share/lectern/media"
	defaultSlidesDir               = "~/.local/share/lectern/slides"
	defaultAPIBind                 = "127.0.0.1:7519"
	defaultTranscriptTimeout       = 60
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 60
	defaultRunnerMaxConcurrentRuns = 2
	defaultRunnerHeartbeatInterval = 15
	defaultRunnerHeartbeatTimeout  = 120
	defaultRunnerKeepaliveInterval = 15
	defaultNotifyRequestTimeout    = 10
	defaultLLMBaseURL              = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                = "google/gemini-3-flash-preview"
	defaultLLMReferer              = "https://github.com/five82/lectern"
	defaultLLMTitle                = "Lectern"
	defaultLLMTimeoutSeconds       = 60
	defaultAnalysisTitle           = "Lectern Analysis"
	defaultAnalysisMaxChars        = 60000
	defaultSlidesInterval          = 20
	defaultSlidesSceneThreshold    = 0.30
	defaultSlidesMax               = 40
	defaultSlidesImageFormat       = "jpg"
)

func defaultAnalysisSections() []string {
	return []string{"summary", "takeaways", "key_points", "chapters"}
}

func defaultRunnerSources() []string {
	return []string{"transcript", "analysis", "slides"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			MediaDir:  defaultMediaDir,
			SlidesDir: defaultSlidesDir,
			APIBind:   defaultAPIBind,
		},
		Transcript: Transcript{
			TimeoutSeconds: defaultTranscriptTimeout,
			Languages:      []string{"en"},
			PreferManual:   true,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Analysis: Analysis{
			Enabled:            true,
			Sections:           defaultAnalysisSections(),
			MaxTranscriptChars: defaultAnalysisMaxChars,
		},
		Slides: Slides{
			Enabled:         true,
			FFmpegBinary:    "ffmpeg",
			FFprobeBinary:   "ffprobe",
			IntervalSeconds: defaultSlidesInterval,
			SceneThreshold:  defaultSlidesSceneThreshold,
			MaxSlides:       defaultSlidesMax,
			ImageFormat:     defaultSlidesImageFormat,
		},
		Runner: Runner{
			MaxConcurrentRuns:    defaultRunnerMaxConcurrentRuns,
			HeartbeatInterval:    defaultRunnerHeartbeatInterval,
			HeartbeatTimeout:     defaultRunnerHeartbeatTimeout,
			SSEKeepaliveInterval: defaultRunnerKeepaliveInterval,
			DefaultSources:       defaultRunnerSources(),
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Runs:           true,
			Errors:         true,
		},
	}
}
