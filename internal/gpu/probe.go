package gpu

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"markergate/internal/logging"
)

const (
	// DefaultCommand is the diagnostic binary used when none is configured.
	DefaultCommand = "nvidia-smi"

	telemetryQuery = "--query-gpu=index,temperature.gpu,memory.total,memory.used"
	summaryQuery   = "--query-gpu=name,memory.total,memory.free"
	csvFormat      = "--format=csv,noheader,nounits"
)

// Device is one accelerator row from a telemetry query.
type Device struct {
	Index         int `json:"index"`
	TemperatureC  int `json:"temperature_c"`
	MemoryTotalMB int `json:"memory_total_mb"`
	MemoryUsedMB  int `json:"memory_used_mb"`
}

// MemoryFreeMB reports total minus used memory.
func (d Device) MemoryFreeMB() int {
	return d.MemoryTotalMB - d.MemoryUsedMB
}

// Snapshot is a point-in-time telemetry reading. An empty Devices slice means
// no accelerator is present or its state could not be read.
type Snapshot struct {
	Devices []Device  `json:"devices"`
	Taken   time.Time `json:"taken"`
}

// Empty reports whether the snapshot carries no devices.
func (s Snapshot) Empty() bool {
	return len(s.Devices) == 0
}

// Executor abstracts command execution for testability.
type Executor interface {
	Output(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// Option configures the probe.
type Option func(*Probe)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(p *Probe) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithLogger attaches a logger for diagnostic output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		p.logger = logging.NewComponentLogger(logger, "gpu")
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Probe) {
		if now != nil {
			p.now = now
		}
	}
}

// Probe runs telemetry queries. It holds no state between calls.
type Probe struct {
	binary  string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
	now     func() time.Time
}

// NewProbe constructs a probe. An empty binary falls back to DefaultCommand;
// a non-positive timeout leaves each query unbounded.
func NewProbe(binary string, timeout time.Duration, opts ...Option) *Probe {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultCommand
	}
	p := &Probe{
		binary:  binary,
		timeout: timeout,
		exec:    commandExecutor{},
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot queries index, temperature, and memory occupancy for every device.
func (p *Probe) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Taken: p.now()}
	out, err := p.run(ctx, telemetryQuery, csvFormat)
	if err != nil {
		p.logger.Debug("gpu telemetry unavailable", logging.Error(err))
		return snap
	}
	devices, err := ParseTelemetry(out)
	if err != nil {
		p.logger.Debug("gpu telemetry unparsable", logging.Error(err), logging.String("stdout", string(out)))
		return snap
	}
	snap.Devices = devices
	return snap
}

// Present reports whether the diagnostic tool lists at least one device.
func (p *Probe) Present(ctx context.Context) bool {
	out, err := p.run(ctx, "-L")
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(out)) > 0
}

// Summary returns the raw name/total/free memory listing, or "" when unavailable.
func (p *Probe) Summary(ctx context.Context) string {
	out, err := p.run(ctx, summaryQuery, csvFormat)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (p *Probe) run(ctx context.Context, args ...string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.exec.Output(ctx, p.binary, args...)
}

// ParseTelemetry decodes header-less, unit-less CSV rows of
// index, temperature, memory.total, memory.used. Rows with fewer than four
// fields are skipped; a non-numeric field rejects the whole output.
func ParseTelemetry(out []byte) ([]Device, error) {
	var devices []Device
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			continue
		}
		values := make([]int, 4)
		for i := range values {
			v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
			if err != nil {
				return nil, fmt.Errorf("parse field %d of %q: %w", i, line, err)
			}
			values[i] = v
		}
		devices = append(devices, Device{
			Index:         values[0],
			TemperatureC:  values[1],
			MemoryTotalMB: values[2],
			MemoryUsedMB:  values[3],
		})
	}
	return devices, nil
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", binary, err, msg)
		}
		return out, fmt.Errorf("%s: %w", binary, err)
	}
	return out, nil
}
