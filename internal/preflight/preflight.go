package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"markergate/internal/config"
	"markergate/internal/deps"
	"markergate/internal/gpu"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Admission.Enabled {
		results = append(results, CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir))
	}
	if cfg.Converter.AlternateOutputDir != "" {
		alt := CheckDirectoryAccess("Alternate output directory", cfg.Converter.AlternateOutputDir)
		alt.Optional = true
		results = append(results, alt)
	}
	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Description
		if status.Available {
			detail = status.Path
		} else if status.Detail != "" {
			detail = status.Detail + " (" + status.Description + ")"
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: detail})
	}
	results = append(results, CheckGPU(ctx, gpu.NewProbe(cfg.GPU.Command, cfg.GPU.QueryTimeout())))
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "Converter",
			Command:     cfg.Converter.Command,
			Description: "Required for document conversion",
		},
		{
			Name:        "nvidia-smi",
			Command:     cfg.GPU.Command,
			Description: "Enables GPU readiness gating; without it jobs run ungated",
			Optional:    true,
		},
	})
}

// Presence reports whether accelerators are visible.
type Presence interface {
	Present(ctx context.Context) bool
	Summary(ctx context.Context) string
}

// CheckGPU reports accelerator visibility. Absence is never a failure.
func CheckGPU(ctx context.Context, probe Presence) Result {
	const name = "GPU"
	if !probe.Present(ctx) {
		return Result{Name: name, Optional: true, Detail: "no GPU detected; readiness gate is a no-op"}
	}
	summary := strings.ReplaceAll(probe.Summary(ctx), "\n", "; ")
	if summary == "" {
		summary = "detected"
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: summary}
}
