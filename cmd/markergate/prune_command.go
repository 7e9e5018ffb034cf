package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markergate/internal/uploads"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var keep int
	var includeOutputs bool
	var all bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the newest uploads",
		Long: `Remove all but the newest uploads.

Without --keep the configured uploads.retention_keep is used, and a value
of 0 means retention is disabled: nothing is removed. Pass --keep 0 or
--all to empty the directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case all:
				keep = 0
			case !cmd.Flags().Changed("keep"):
				keep = cfg.Uploads.RetentionKeep
				if keep == 0 {
					fmt.Fprintln(out, "Retention disabled (uploads.retention_keep = 0); nothing removed. Use --keep N or --all.")
					return nil
				}
			}
			if keep < 0 {
				return fmt.Errorf("--keep must be >= 0")
			}
			logger, closer, err := ctx.commandLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer closer.Close()

			dirs := []string{cfg.Paths.UploadDir}
			if includeOutputs {
				dirs = append(dirs, cfg.Paths.OutputDir)
			}
			failures := 0
			for _, dir := range dirs {
				result := uploads.Prune(cmd.Context(), dir, keep, logger)
				fmt.Fprintf(out, "%s: kept %d, removed %d\n", dir, result.Kept, len(result.Removed))
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  failed to remove %s: %v\n", e.Path, e.Error)
				}
				failures += len(result.Errors)
			}
			if failures > 0 {
				return fmt.Errorf("prune: %d entr(ies) could not be removed", failures)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of newest entries to keep (default uploads.retention_keep)")
	cmd.Flags().BoolVar(&includeOutputs, "outputs", false, "Also prune the output directory")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every entry regardless of retention settings")
	cmd.MarkFlagsMutuallyExclusive("keep", "all")
	return cmd
}
