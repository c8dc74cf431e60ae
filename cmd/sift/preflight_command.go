package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sift/internal/preflight"
	"sift/internal/services"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the class table, and detector availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)

			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "OK"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			}

			if len(failed) > 0 {
				return services.Wrap(services.ErrConfiguration, "preflight", "", fmt.Sprintf("%d of %d checks failed", len(failed), len(results)), nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print check results as JSON")
	return cmd
}
