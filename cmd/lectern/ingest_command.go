package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/client"
	"lectern/internal/registry"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var sources []string
	var supersede bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ingest <entity-id>",
		Short: "Start a run for an entity and stream its events",
		Long: `Start a run for an entity and stream its events.

The command opens a live event stream and prints progress, partial results,
and slides as each source produces them. Closing the stream (Ctrl-C) does
not cancel the run; reattach later with lectern resume.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := strings.TrimSpace(args[0])
			if err := registry.ValidateEntityID(entityID); err != nil {
				return err
			}

			run, err := newRunSession(ctx, cmd, entityID, jsonOut)
			if err != nil {
				return err
			}
			defer run.close()

			err = run.sess.Start(cmd.Context(), client.StartOptions{
				Sources:   sources,
				Supersede: supersede,
			})
			if err != nil {
				if client.IsConflict(err) {
					return fmt.Errorf("a run is already active for %s; pass --supersede to replace it", entityID)
				}
				return run.describeErr(err)
			}

			return run.finish(cmd, entityID, jsonOut)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "Sources to run (transcript, analysis, slides); repeatable, defaults to the configured set")
	cmd.Flags().BoolVar(&supersede, "supersede", false, "Cancel an active run for the entity before starting")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Suppress event lines and print the final run state as JSON")
	return cmd
}
