package main

import (
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/daemonrun"
)

// newDaemonRunCommand runs the daemon in the foreground. `lectern start`
// launches this hidden command as a detached process; running it directly is
// useful under systemd or while debugging.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool

	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Run the lectern daemon in the foreground",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts := daemonrun.Options{
				LogLevel:   cfg.Logging.Level,
				Diagnostic: diagnostic,
			}
			if ctx.socketFlag != nil {
				opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	return cmd
}
