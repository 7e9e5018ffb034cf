package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markergate/internal/gpu"
	"markergate/internal/readiness"
)

func newGPUCommand(ctx *commandContext) *cobra.Command {
	gpuCmd := &cobra.Command{
		Use:   "gpu",
		Short: "Inspect accelerator telemetry",
	}
	gpuCmd.AddCommand(newGPUStatusCommand(ctx))
	return gpuCmd
}

type gpuStatusView struct {
	Present bool              `json:"present"`
	Summary string            `json:"summary,omitempty"`
	Policy  gpuPolicyView     `json:"policy"`
	Devices []gpu.Device      `json:"devices"`
	Verdict readiness.Verdict `json:"verdict"`
}

type gpuPolicyView struct {
	TemperatureThresholdC int `json:"temperature_threshold_c"`
	MinFreeMemoryMB       int `json:"min_free_memory_mb"`
}

func newGPUStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-device telemetry and the readiness verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe := gpu.NewProbe(cfg.GPU.Command, cfg.GPU.QueryTimeout())
			policy := readiness.PolicyFromConfig(cfg.GPU)
			gate := readiness.NewGate(probe, policy)

			snapshot, verdict := gate.Check(cmd.Context())
			view := gpuStatusView{
				Present: probe.Present(cmd.Context()),
				Policy: gpuPolicyView{
					TemperatureThresholdC: policy.TemperatureThresholdC,
					MinFreeMemoryMB:       policy.MinFreeMemoryMB,
				},
				Devices: snapshot.Devices,
				Verdict: verdict,
			}
			if view.Present {
				view.Summary = probe.Summary(cmd.Context())
			}
			if view.Devices == nil {
				view.Devices = []gpu.Device{}
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			if snapshot.Empty() {
				fmt.Fprintln(out, "No GPU telemetry available; the readiness gate passes immediately.")
				return nil
			}
			fmt.Fprintln(out, gpuTable(snapshot, verdict, colorEnabled(out)))
			if verdict.Ready {
				fmt.Fprintln(out, "Ready: yes")
			} else {
				fmt.Fprintf(out, "Ready: no (%s)\n", verdict)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
