package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"markergate/internal/conversion"
	"markergate/internal/services"
)

type convertSummary struct {
	RequestID  string  `json:"request_id"`
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	Source     string  `json:"source,omitempty"`
	Relocated  bool    `json:"relocated"`
	GPUWait    float64 `json:"gpu_wait_seconds"`
	ElapsedSec float64 `json:"processing_time_seconds"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert one document locally through the GPU gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve input: %w", err)
			}

			logger, closer, err := ctx.commandLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer closer.Close()

			pipeline, _, err := conversion.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			requestID := uuid.NewString()
			outcome, err := pipeline.Convert(services.WithRequestID(signalCtx, requestID), input)
			if err != nil {
				return err
			}

			summary := convertSummary{
				RequestID:  requestID,
				Input:      input,
				Output:     outcome.OutputPath,
				Source:     outcome.Resolution.Source,
				Relocated:  outcome.Resolution.Relocated,
				GPUWait:    outcome.Readiness.Waited.Seconds(),
				ElapsedSec: outcome.Elapsed.Seconds(),
			}
			if jsonOutput {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Output: %s\n", summary.Output)
			if summary.Relocated {
				fmt.Fprintf(out, "Found via %s and moved into the output directory\n", summary.Source)
			}
			fmt.Fprintf(out, "Duration: %s (GPU wait %s)\n",
				outcome.Elapsed.Round(10*time.Millisecond), outcome.Readiness.Waited.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
