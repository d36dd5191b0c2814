// Command lecternd runs the lectern daemon in the foreground. It is
// equivalent to `lectern daemon` and exists for service managers that want a
// dedicated daemon executable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"lectern/internal/config"
	"lectern/internal/daemonrun"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		socketPath = flag.String("socket", "", "IPC socket path override")
		diagnostic = flag.Bool("diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	)
	flag.Parse()

	if err := run(*configPath, *socketPath, *diagnostic); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, socketPath string, diagnostic bool) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	return daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:   cfg.Logging.Level,
		Diagnostic: diagnostic,
		SocketPath: socketPath,
	})
}
