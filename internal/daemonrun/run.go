package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/fileutil"
	"lectern/internal/ipc"
	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/preflight"
	"lectern/internal/registry"
	"lectern/internal/runner"
	"lectern/internal/services/analysis"
	"lectern/internal/services/llm"
	"lectern/internal/services/slides"
	"lectern/internal/services/transcript"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
	// SocketPath overrides the IPC socket location; defaults to
	// <log_dir>/lectern.sock.
	SocketPath string
}

// Run starts the lectern daemon runtime loop. It blocks until the context is
// canceled or a SIGINT/SIGTERM arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bootID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("lectern-%s.log", bootID))
	eventsPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("lectern-%s.events", bootID))
	logHub := logging.NewStreamHub(4096)
	eventArchive, archiveErr := logging.NewEventArchive(eventsPath)
	if archiveErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize log archive: %v\n", archiveErr)
	} else if eventArchive != nil {
		logHub.AddSink(eventArchive)
	}

	var sessionID string
	var debugLogPath string
	if opts.Diagnostic {
		sessionID = uuid.NewString()
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := fileutil.EnsureDir(debugDir); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugLogPath = filepath.Join(debugDir, fmt.Sprintf("lectern-%s.log", bootID))
	}

	loggerOpts := logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Stream:           logHub,
		SessionID:        sessionID,
	}
	logger, err := logging.New(loggerOpts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		debugLogger, debugErr := logging.New(logging.Options{
			Level:            "debug",
			Format:           "json",
			OutputPaths:      []string{debugLogPath},
			ErrorOutputPaths: []string{debugLogPath},
			Development:      true,
			SessionID:        sessionID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
			if err := ensureCurrentLogPointer(filepath.Join(cfg.Paths.LogDir, "debug"), debugLogPath); err != nil {
				fmt.Fprintf(os.Stderr, "warn: unable to update debug/%s link: %v\n", logging.DaemonLogFilename, err)
			}
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("debug_log_path", debugLogPath),
		)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.DaemonLogFilename, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "lectern-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "lectern-*.events", Exclude: []string{eventsPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "lectern-*.log", Exclude: []string{debugLogPath}},
	)
	pidPath := filepath.Join(cfg.Paths.LogDir, "lecternd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := registry.Open(cfg)
	if err != nil {
		logger.Error("open run registry", logging.Error(err))
		return err
	}
	defer store.Close()

	notifier := notifications.NewService(cfg)
	handlers := buildSources(cfg, logger)
	run, err := runner.New(cfg, store, logger, notifier, handlers...)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, run, logPath, logHub, eventArchive, notifier)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// Acquire the daemon lock before claiming the IPC socket so a second
	// instance cannot steal the socket from a live daemon.
	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for a running instance and registry database access"),
		)
		return err
	}

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "lectern.sock")
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	go logPreflightChecks(signalCtx, logger, cfg)

	<-signalCtx.Done()
	logger.Info("lectern daemon shutting down")
	return nil
}

// buildSources assembles the source handlers for the enabled features. The
// transcript handler is always registered so runs can report its configured
// state; analysis and slides register only when enabled.
func buildSources(cfg *config.Config, logger *slog.Logger) []runner.SourceRunner {
	var handlers []runner.SourceRunner

	var client *transcript.Client
	if strings.TrimSpace(cfg.Transcript.BaseURL) != "" {
		timeout := time.Duration(cfg.Transcript.TimeoutSeconds) * time.Second
		c, err := transcript.NewClient(cfg.Transcript.BaseURL, cfg.Transcript.APIKey, timeout)
		if err != nil {
			logger.Warn("transcript client unavailable", logging.Error(err))
		} else {
			client = c
		}
	}
	transcriptSvc := transcript.NewService(cfg.Transcript, client, logger)
	handlers = append(handlers, transcriptSvc)

	if cfg.Analysis.Enabled {
		var completer analysis.Completer
		llmCfg := cfg.AnalysisLLM()
		if llmCfg.APIKey != "" {
			completer = llm.NewClient(llm.Config{
				APIKey:         llmCfg.APIKey,
				BaseURL:        llmCfg.BaseURL,
				Model:          llmCfg.Model,
				Referer:        llmCfg.Referer,
				Title:          llmCfg.Title,
				TimeoutSeconds: llmCfg.TimeoutSeconds,
			})
		}
		var docs analysis.DocumentFetcher
		if client != nil {
			docs = transcriptSvc
		}
		handlers = append(handlers, analysis.NewService(cfg.Analysis, completer, docs, logger))
	}

	if cfg.Slides.Enabled {
		handlers = append(handlers, slides.NewService(cfg, logger))
	}

	return handlers
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.DaemonLogFilename)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return fileutil.WriteFileAtomic(path, []byte(value), 0o644)
}

// logDependencySnapshot records external binary availability at boot so a
// misconfigured host is visible in the log before the first run.
func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("transcript_configured", strings.TrimSpace(cfg.Transcript.BaseURL) != ""),
		logging.Bool("llm_key_present", cfg.AnalysisLLM().APIKey != ""),
		logging.Bool("analysis_enabled", cfg.Analysis.Enabled),
		logging.Bool("slides_enabled", cfg.Slides.Enabled),
	}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_command", status.Command),
		)
	}
	logger.Info("dependency snapshot", attrs...)
}

// logPreflightChecks probes external endpoints off the startup path; the LLM
// and transcript checks can block for tens of seconds when a provider is down.
func logPreflightChecks(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_check_failed"),
			logging.String(logging.FieldErrorHint, "fix the configuration or disable the feature"),
			logging.String(logging.FieldImpact, "runs needing this dependency will fail"),
		)
	}
}
