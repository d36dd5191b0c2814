package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/client"
	"lectern/internal/registry"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "resume <entity-id>",
		Short: "Reattach to an entity's latest run",
		Long: `Reattach to an entity's latest run.

An in-flight run streams its remaining events; a completed run prints the
durable artifact immediately. A failed run is not resumable, start a new
one with lectern ingest.`,
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

			err = run.sess.Resume(cmd.Context())
			if err != nil {
				if errors.Is(err, client.ErrNoRuns) {
					return fmt.Errorf("no runs recorded for %s; start one with `lectern ingest %s`", entityID, entityID)
				}
				if errors.Is(err, client.ErrNotResumable) {
					return fmt.Errorf("%s; start a new run with `lectern ingest %s`", err, entityID)
				}
				return run.describeErr(err)
			}

			if !jsonOut && run.sess.State() == client.StateCompleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s already completed (version %d)\n", run.sess.RunID(), run.sess.Version())
			}
			return run.finish(cmd, entityID, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Suppress event lines and print the final run state as JSON")
	return cmd
}
