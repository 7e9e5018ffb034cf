package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markergate/internal/tables"
)

func newTablesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tables <document>",
		Short: "Export markdown tables of a converted document to xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, closer, err := ctx.commandLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer closer.Close()

			report, err := tables.NewExporterFromConfig(cfg, logger).Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Markdown: %s\n", report.MarkdownPath)
			fmt.Fprintf(out, "Tables: %d", report.TableCount)
			if report.Skipped > 0 {
				fmt.Fprintf(out, " (%d unparsable skipped)", report.Skipped)
			}
			fmt.Fprintln(out)
			for _, f := range report.ExcelFiles {
				fmt.Fprintf(out, "  %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
