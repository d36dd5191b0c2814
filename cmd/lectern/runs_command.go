package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/ipc"
	"lectern/internal/registry"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var entityID string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if trimmed := strings.TrimSpace(entityID); trimmed != "" {
				if err := registry.ValidateEntityID(trimmed); err != nil {
					return err
				}
				entityID = trimmed
			} else {
				entityID = ""
			}

			return ctx.withRegistry(func(client *ipc.Client, store *registry.Store) error {
				var runs []api.Run
				if client != nil {
					resp, err := client.RunList(entityID, limit)
					if err != nil {
						return err
					}
					runs = resp.Runs
				} else {
					listed, err := store.List(cmd.Context(), registry.ListFilter{EntityID: entityID, Limit: limit})
					if err != nil {
						return err
					}
					runs = api.FromRuns(listed)
				}

				if jsonOut {
					return writeJSON(cmd, api.RunListResponse{Runs: runs})
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				table := renderTable(
					[]string{"Entity", "Run", "Status", "Version", "Sources", "Started", "Finished"},
					buildRunListRows(runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "Only list runs for this entity")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output runs as JSON")
	return cmd
}
