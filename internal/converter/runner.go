package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"markergate/internal/config"
	"markergate/internal/logging"
	"markergate/internal/services"
)

// Request names the single input file of one conversion run.
type Request struct {
	InputPath string
}

// Result captures the outcome of one subprocess invocation. A non-zero
// ExitCode is a normal result, not an error.
type Result struct {
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// Succeeded reports whether the converter exited zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Invocation is the fully assembled command line.
type Invocation struct {
	Binary string
	Args   []string
	Env    []string
}

// Executor runs an invocation to completion, capturing its output.
type Executor interface {
	Run(ctx context.Context, inv Invocation, stdout, stderr *bytes.Buffer) (exitCode int, err error)
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.NewComponentLogger(logger, "converter")
	}
}

// Runner launches the external conversion tool.
type Runner struct {
	binary  string
	flags   []string
	env     []string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
}

// New constructs a runner. timeout <= 0 leaves runs unbounded.
func New(binary string, flags, env []string, timeout time.Duration, opts ...Option) (*Runner, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("converter command required")
	}
	r := &Runner{
		binary:  binary,
		flags:   append([]string(nil), flags...),
		env:     append([]string(nil), env...),
		timeout: timeout,
		exec:    commandExecutor{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewFromConfig builds a runner from the converter section.
func NewFromConfig(cfg config.Converter, opts ...Option) (*Runner, error) {
	return New(cfg.Command, cfg.Flags, cfg.Env, cfg.Timeout(), opts...)
}

// Binary returns the configured command.
func (r *Runner) Binary() string {
	return r.binary
}

// Invocation assembles the command line for input: binary, input path, then flags.
// The environment is inherited with configured overrides appended.
func (r *Runner) Invocation(input string) Invocation {
	args := make([]string, 0, len(r.flags)+1)
	args = append(args, input)
	args = append(args, r.flags...)
	var env []string
	if len(r.env) > 0 {
		env = append(os.Environ(), r.env...)
	}
	return Invocation{Binary: r.binary, Args: args, Env: env}
}

// Run executes the converter for req and waits for it to exit. The returned
// error is non-nil only when the process could not be started, when ctx was
// cancelled, or when the watchdog expired (services.ErrJobTimeout, with the
// partial Result still populated).
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return Result{}, services.Wrap(services.ErrInvalidInput, "convert", "run", "input path required", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, r.logger)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	inv := r.Invocation(req.InputPath)
	logger.Info("converter started",
		logging.String("command", r.binary),
		logging.String("input", req.InputPath),
		logging.Duration("timeout", r.timeout),
	)
	logger.Debug("converter invocation", logging.Any("args", inv.Args))

	var stdout, stderr bytes.Buffer
	start := time.Now()
	exitCode, err := r.exec.Run(runCtx, inv, &stdout, &stderr)
	result := Result{
		ExitCode: exitCode,
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	logger.Debug("converter output", logging.String("stdout", result.Stdout), logging.String("stderr", result.Stderr))

	if err != nil {
		if r.timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, services.Wrap(services.ErrJobTimeout, "convert", "run",
				fmt.Sprintf("%s exceeded %s on %s", r.binary, r.timeout, req.InputPath), err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("converter run cancelled: %w", ctxErr)
		}
		return result, services.Wrap(services.ErrExternalTool, "convert", "launch", "start "+r.binary, err)
	}

	logger.Info("converter finished",
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// pipeDrainGrace bounds how long Wait keeps reading output after the
// converter exits or is killed while a descendant still holds its pipes.
const pipeDrainGrace = 5 * time.Second

type commandExecutor struct{}

// Run starts the converter in its own process group so cancellation reaches
// the worker processes it forks, not only the direct child.
func (commandExecutor) Run(ctx context.Context, inv Invocation, stdout, stderr *bytes.Buffer) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...) //nolint:gosec
	cmd.Env = inv.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}
	cmd.WaitDelay = pipeDrainGrace

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	code := -1
	if exitErr != nil {
		code = exitErr.ExitCode()
	}
	return code, err
}

func killGroup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	err := unix.Kill(-proc.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
