package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/ipc"
	"lectern/internal/logging"
	"lectern/internal/logs"
	"lectern/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var component string
	var entityID string
	var runID string
	var source string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Long: `Display daemon logs.

Logs stream from the daemon's HTTP API when it is reachable, which supports
filtering by component, entity, run, or source. Without the API the command
falls back to tailing the raw log file over the daemon socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bind, token := ctx.apiEndpoint()
			apiClient, err := logs.NewStreamClient(bind, token)
			if err != nil {
				return err
			}

			var legacy logstream.TailClient
			client, dialErr := ipc.Dial(ctx.socketPath())
			if dialErr == nil {
				defer client.Close()
				legacy = client
			}

			stdout := cmd.OutOrStdout()
			printed, err := logstream.Stream(
				cmd.Context(),
				apiClient,
				legacy,
				logstream.Options{
					Lines:  lines,
					Follow: follow,
					Filters: logstream.Filters{
						Component: component,
						EntityID:  entityID,
						RunID:     runID,
						Source:    source,
					},
				},
				func(event logging.LogEvent) {
					fmt.Fprintln(stdout, formatLogEvent(event))
				},
				func(line string) {
					fmt.Fprintln(stdout, line)
				},
			)
			if err != nil {
				if errors.Is(err, logs.ErrAPIUnavailable) && dialErr != nil {
					return wrapDialError(dialErr, ctx.socketPath())
				}
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(stdout, "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	cmd.Flags().StringVar(&entityID, "entity", "", "Only show events for this entity")
	cmd.Flags().StringVar(&runID, "run", "", "Only show events for this run")
	cmd.Flags().StringVar(&source, "source", "", "Only show events from this source")
	return cmd
}

func formatLogEvent(event logging.LogEvent) string {
	var b strings.Builder
	if !event.Timestamp.IsZero() {
		b.WriteString(event.Timestamp.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToUpper(event.Level))
	if event.Component != "" {
		b.WriteString(" [")
		b.WriteString(event.Component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(event.Message)
	appendLogField(&b, "entity", event.EntityID)
	appendLogField(&b, "run", event.RunID)
	appendLogField(&b, "source", event.Source)
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			appendLogField(&b, key, event.Fields[key])
		}
	}
	return b.String()
}

func appendLogField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}
