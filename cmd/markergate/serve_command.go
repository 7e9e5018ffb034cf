package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"markergate/internal/httpapi"
	"markergate/internal/logging"
	"markergate/internal/preflight"
	"markergate/internal/uploads"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if b := strings.TrimSpace(bind); b != "" {
				cfg.Paths.APIBind = b
			}

			logger, closer, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer closer.Close()

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			results := preflight.RunAll(signalCtx, cfg)
			for _, r := range results {
				attrs := []logging.Attr{
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
				}
				switch {
				case r.Passed:
					logger.Info("preflight ok", logging.Args(attrs...)...)
				case r.Optional:
					logging.WarnWithContext(logger, "preflight warning", "preflight_warning",
						append(attrs, logging.String(logging.FieldImpact, "feature degraded"))...)
				default:
					logging.ErrorWithContext(logger, "preflight failed", "preflight_failed", attrs...)
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("preflight: %d required check(s) failed; run `markergate status` for details", len(failed))
			}

			if keep := cfg.Uploads.RetentionKeep; keep > 0 {
				uploads.Prune(signalCtx, cfg.Paths.UploadDir, keep, logger)
			}

			srv, err := httpapi.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(signalCtx); err != nil {
				return err
			}
			<-signalCtx.Done()
			logger.Info("shutting down")
			srv.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.api_bind")
	return cmd
}
