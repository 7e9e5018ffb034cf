package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markergate/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report directory, dependency, and GPU readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if jsonOutput {
				return writeJSON(cmd, results)
			}

			out := cmd.OutOrStdout()
			settings := []statusSetting{
				{Name: "API bind", Value: cfg.Paths.APIBind},
				{Name: "Converter command", Value: cfg.Converter.Command},
			}
			fmt.Fprintln(out, renderStatusReport(settings, results, colorEnabled(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
