package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"markergate/internal/config"
	"markergate/internal/gpu"
	"markergate/internal/logging"
	"markergate/internal/services"
)

// Policy holds the thresholds a device must satisfy.
type Policy struct {
	TemperatureThresholdC int
	MinFreeMemoryMB       int
	PollInterval          time.Duration
	Timeout               time.Duration
}

// PolicyFromConfig builds a policy from the gpu configuration section.
func PolicyFromConfig(cfg config.GPU) Policy {
	return Policy{
		TemperatureThresholdC: cfg.TemperatureThresholdC,
		MinFreeMemoryMB:       cfg.MinFreeMemoryMB,
		PollInterval:          cfg.PollInterval(),
		Timeout:               cfg.WaitTimeout(),
	}
}

// Violation describes why a single device is unsafe.
type Violation struct {
	Device  gpu.Device `json:"device"`
	Reasons []string   `json:"reasons"`
}

// Verdict is the result of evaluating one snapshot.
type Verdict struct {
	Ready  bool        `json:"ready"`
	Unsafe []Violation `json:"unsafe,omitempty"`
}

// String renders offending devices for log and error messages.
func (v Verdict) String() string {
	if v.Ready {
		return "ready"
	}
	parts := make([]string, 0, len(v.Unsafe))
	for _, violation := range v.Unsafe {
		parts = append(parts, fmt.Sprintf("gpu %d: %s", violation.Device.Index, strings.Join(violation.Reasons, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Evaluate applies policy to snapshot. Any unsafe device makes the verdict
// not ready.
func Evaluate(policy Policy, snapshot gpu.Snapshot) Verdict {
	verdict := Verdict{Ready: true}
	for _, device := range snapshot.Devices {
		var reasons []string
		if device.TemperatureC >= policy.TemperatureThresholdC {
			reasons = append(reasons, fmt.Sprintf("temperature %dC >= %dC", device.TemperatureC, policy.TemperatureThresholdC))
		}
		if free := device.MemoryFreeMB(); free < policy.MinFreeMemoryMB {
			reasons = append(reasons, fmt.Sprintf("free memory %dMB < %dMB", free, policy.MinFreeMemoryMB))
		}
		if len(reasons) > 0 {
			verdict.Ready = false
			verdict.Unsafe = append(verdict.Unsafe, Violation{Device: device, Reasons: reasons})
		}
	}
	return verdict
}

// Prober produces telemetry snapshots.
type Prober interface {
	Snapshot(ctx context.Context) gpu.Snapshot
}

// Outcome reports how long a successful wait took.
type Outcome struct {
	Waited time.Duration
	Polls  int
}

// TimeoutError is returned when thresholds were never met within the policy timeout.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
	Last    Verdict
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gpu not ready after %s (timeout %s): %s", e.Elapsed.Round(time.Millisecond), e.Timeout, e.Last)
}

// Is matches services.ErrReadinessTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == services.ErrReadinessTimeout
}

// Option configures the gate.
type Option func(*Gate)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logging.NewComponentLogger(logger, "readiness")
	}
}

// WithClock overrides the time source and sleep function (primarily for tests).
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// Gate polls a Prober until the policy is satisfied.
type Gate struct {
	probe  Prober
	policy Policy
	logger *slog.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// NewGate constructs a readiness gate.
func NewGate(probe Prober, policy Policy, opts ...Option) *Gate {
	g := &Gate{
		probe:  probe,
		policy: policy,
		logger: logging.NewNop(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the thresholds in effect.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check evaluates a single fresh snapshot without waiting.
func (g *Gate) Check(ctx context.Context) (gpu.Snapshot, Verdict) {
	snapshot := g.probe.Snapshot(ctx)
	return snapshot, Evaluate(g.policy, snapshot)
}

// AwaitReady blocks until the policy is satisfied, the timeout elapses, or
// ctx is cancelled. A ready first check returns without sleeping.
func (g *Gate) AwaitReady(ctx context.Context) (Outcome, error) {
	logger := logging.WithContext(ctx, g.logger)
	start := g.now()
	polls := 0
	for {
		_, verdict := g.Check(ctx)
		elapsed := g.now().Sub(start)
		if verdict.Ready {
			if polls > 0 {
				logger.Info("gpu ready", logging.Duration("waited", elapsed), logging.Int("polls", polls))
			}
			return Outcome{Waited: elapsed, Polls: polls}, nil
		}
		if elapsed >= g.policy.Timeout {
			return Outcome{Waited: elapsed, Polls: polls}, &TimeoutError{Elapsed: elapsed, Timeout: g.policy.Timeout, Last: verdict}
		}
		if polls == 0 {
			logger.Info("waiting for gpu",
				logging.String("reason", verdict.String()),
				logging.Duration("poll_interval", g.policy.PollInterval),
				logging.Duration("timeout", g.policy.Timeout),
			)
		} else {
			logger.Debug("gpu still busy", logging.String("reason", verdict.String()), logging.Duration("elapsed", elapsed))
		}
		if err := g.sleep(ctx, g.policy.PollInterval); err != nil {
			return Outcome{Waited: g.now().Sub(start), Polls: polls}, fmt.Errorf("await gpu readiness: %w", err)
		}
		polls++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
