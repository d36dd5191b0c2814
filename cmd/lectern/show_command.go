package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/ipc"
	"lectern/internal/registry"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <entity-id>",
		Short: "Show the latest run state and artifact for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := strings.TrimSpace(args[0])
			if err := registry.ValidateEntityID(entityID); err != nil {
				return err
			}

			return ctx.withRegistry(func(client *ipc.Client, store *registry.Store) error {
				var status api.EntityStatus
				if client != nil {
					resp, err := client.RunDescribe(entityID)
					if err != nil {
						return err
					}
					status = resp.Status
				} else {
					latest, err := store.LatestRun(cmd.Context(), entityID)
					if err != nil {
						return err
					}
					completed, err := store.LatestCompleted(cmd.Context(), entityID)
					if err != nil {
						return err
					}
					status = api.StatusForEntity(entityID, latest, completed)
				}

				if jsonOut {
					return writeJSON(cmd, status)
				}
				printEntityStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the snapshot as JSON")
	return cmd
}

func printEntityStatus(cmd *cobra.Command, status api.EntityStatus) {
	stdout := cmd.OutOrStdout()

	if status.Status == api.StatusNone {
		fmt.Fprintf(stdout, "No runs recorded for %s\n", status.EntityID)
		return
	}

	fmt.Fprintf(stdout, "Entity:   %s\n", status.EntityID)
	fmt.Fprintf(stdout, "Status:   %s\n", formatStatusLabel(status.Status))
	if status.RunID != "" {
		fmt.Fprintf(stdout, "Run:      %s\n", status.RunID)
	}
	fmt.Fprintf(stdout, "Version:  %d\n", status.Version)
	if status.UpdatedAt != "" {
		fmt.Fprintf(stdout, "Updated:  %s\n", formatDisplayTime(status.UpdatedAt))
	}
	if status.ErrorMessage != "" {
		fmt.Fprintf(stdout, "Error:    %s\n", status.ErrorMessage)
	}
	if len(status.Result) > 0 && string(status.Result) != "null" {
		fmt.Fprintln(stdout, "Result:")
		fmt.Fprintln(stdout, indentJSON(status.Result))
	}
}
