// Package conversion runs one document through readiness, conversion, and
// output resolution, strictly in that order.
package conversion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"markergate/internal/admission"
	"markergate/internal/config"
	"markergate/internal/converter"
	"markergate/internal/gpu"
	"markergate/internal/logging"
	"markergate/internal/readiness"
	"markergate/internal/resolver"
	"markergate/internal/services"
)

// Gate blocks until the accelerator is safe to use.
type Gate interface {
	AwaitReady(ctx context.Context) (readiness.Outcome, error)
}

// Invoker runs the external converter.
type Invoker interface {
	Run(ctx context.Context, req converter.Request) (converter.Result, error)
}

// OutputResolver locates the converter's output.
type OutputResolver interface {
	Resolve(ctx context.Context, inputPath string, result converter.Result) (resolver.Resolution, error)
}

// Admitter serializes heavy runs.
type Admitter interface {
	Acquire(ctx context.Context) (func(), error)
}

// Outcome summarizes a successful conversion.
type Outcome struct {
	InputPath  string
	OutputPath string
	Resolution resolver.Resolution
	Readiness  readiness.Outcome
	Result     converter.Result
	Elapsed    time.Duration
}

// Pipeline wires the gate, invoker, and resolver.
type Pipeline struct {
	admit    Admitter
	gate     Gate
	invoker  Invoker
	resolver OutputResolver
	logger   *slog.Logger
}

// New constructs a pipeline. admit may be nil, which disables serialization.
func New(admit Admitter, gate Gate, invoker Invoker, res OutputResolver, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		admit:    admit,
		gate:     gate,
		invoker:  invoker,
		resolver: res,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Components exposes the concrete collaborators built by NewFromConfig so
// callers such as the HTTP API can reuse the probe and gate.
type Components struct {
	Probe    *gpu.Probe
	Gate     *readiness.Gate
	Slot     *admission.Slot
	Runner   *converter.Runner
	Resolver *resolver.Resolver
}

// NewFromConfig assembles a pipeline and its collaborators from cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Pipeline, Components, error) {
	probe := gpu.NewProbe(cfg.GPU.Command, cfg.GPU.QueryTimeout(), gpu.WithLogger(logger))
	gate := readiness.NewGate(probe, readiness.PolicyFromConfig(cfg.GPU), readiness.WithLogger(logger))
	slot := admission.NewFromConfig(cfg, admission.WithLogger(logger))
	runner, err := converter.NewFromConfig(cfg.Converter, converter.WithLogger(logger))
	if err != nil {
		return nil, Components{}, services.Wrap(services.ErrConfiguration, "pipeline", "build", "converter", err)
	}
	res := resolver.NewFromConfig(cfg, resolver.WithLogger(logger))
	parts := Components{Probe: probe, Gate: gate, Slot: slot, Runner: runner, Resolver: res}
	return New(slot, gate, runner, res, logger), parts, nil
}

// Convert runs inputPath through the pipeline. A readiness timeout, a failed
// or timed-out run, or a missing output are returned as errors classified by
// the services markers; a failed relocation is not.
func (p *Pipeline) Convert(ctx context.Context, inputPath string) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx = services.WithJob(ctx, resolver.Stem(inputPath))
	outcome := Outcome{InputPath: inputPath}

	result, ready, err := p.runGated(ctx, inputPath)
	outcome.Readiness = ready
	outcome.Result = result
	if err != nil {
		outcome.Elapsed = time.Since(start)
		return outcome, err
	}

	logger := logging.WithContext(services.WithStage(ctx, "convert"), p.logger)
	if !result.Succeeded() {
		jobErr := &services.JobError{Input: inputPath, ExitCode: result.ExitCode, Stderr: result.Stderr}
		logging.ErrorWithContext(logger, "converter failed", "converter_failed",
			logging.Int("exit_code", result.ExitCode),
			logging.String(logging.FieldErrorHint, "see stderr in the debug log"),
		)
		outcome.Elapsed = time.Since(start)
		return outcome, jobErr
	}

	resolution, err := p.resolver.Resolve(services.WithStage(ctx, "resolve"), inputPath, result)
	outcome.Elapsed = time.Since(start)
	if err != nil {
		logging.ErrorWithContext(logger, "converter output not found", "output_not_found", logging.Error(err))
		return outcome, err
	}
	outcome.Resolution = resolution
	outcome.OutputPath = resolution.Path

	logger.Info("conversion complete",
		logging.String("output_path", resolution.Path),
		logging.Bool("relocated", resolution.Relocated),
		logging.Duration("stage_duration", outcome.Elapsed),
		logging.Duration("gpu_wait", ready.Waited),
	)
	return outcome, nil
}

// runGated holds the admission slot across the readiness check and the
// subprocess so no other job can claim the accelerator in between.
func (p *Pipeline) runGated(ctx context.Context, inputPath string) (converter.Result, readiness.Outcome, error) {
	if p.admit != nil {
		release, err := p.admit.Acquire(services.WithStage(ctx, "admission"))
		if err != nil {
			return converter.Result{}, readiness.Outcome{}, err
		}
		defer release()
	}

	ready, err := p.gate.AwaitReady(services.WithStage(ctx, "readiness"))
	if err != nil {
		var timeout *readiness.TimeoutError
		if errors.As(err, &timeout) {
			logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "gpu readiness timed out", "readiness_timeout",
				logging.Duration("elapsed", timeout.Elapsed),
				logging.String("reason", timeout.Last.String()),
				logging.String(logging.FieldErrorHint, "raise gpu.wait_timeout_seconds or free the accelerator"),
			)
		}
		return converter.Result{}, ready, err
	}

	result, err := p.invoker.Run(services.WithStage(ctx, "convert"), converter.Request{InputPath: inputPath})
	return result, ready, err
}
