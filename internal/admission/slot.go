// Package admission serializes heavy conversion runs per accelerator.
//
// A Slot combines an in-process semaphore with a cross-process file lock so
// two markergate processes sharing a lock directory never launch converters
// on the same accelerator at once.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"markergate/internal/config"
	"markergate/internal/logging"
)

const defaultRetryDelay = 250 * time.Millisecond

var errLockBusy = errors.New("admission lock busy")

// Slot is a single-occupancy admission gate.
type Slot struct {
	enabled  bool
	sem      chan struct{}
	lock     *flock.Flock
	lockPath string
	retry    time.Duration
	logger   *slog.Logger
}

// Option configures a slot.
type Option func(*Slot)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Slot) {
		s.logger = logging.NewComponentLogger(logger, "admission")
	}
}

// WithRetryDelay sets how often a busy file lock is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Slot) {
		if d > 0 {
			s.retry = d
		}
	}
}

// New constructs a slot guarding accelerator within lockDir. A disabled slot
// grants every Acquire immediately.
func New(lockDir, accelerator string, enabled bool, opts ...Option) *Slot {
	lockPath := filepath.Join(lockDir, "gpu-"+sanitizeName(accelerator)+".lock")
	s := &Slot{
		enabled:  enabled,
		sem:      make(chan struct{}, 1),
		lock:     flock.New(lockPath),
		lockPath: lockPath,
		retry:    defaultRetryDelay,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig guards the accelerator set selected by CUDA_VISIBLE_DEVICES.
func NewFromConfig(cfg *config.Config, opts ...Option) *Slot {
	accelerator := strings.TrimSpace(os.Getenv("CUDA_VISIBLE_DEVICES"))
	if accelerator == "" {
		accelerator = "all"
	}
	return New(cfg.Paths.LockDir, accelerator, cfg.Admission.Enabled, opts...)
}

// LockPath returns the file lock location.
func (s *Slot) LockPath() string {
	return s.lockPath
}

// Acquire blocks until the slot is free or ctx is done. The returned release
// function must be called exactly once.
func (s *Slot) Acquire(ctx context.Context) (func(), error) {
	if !s.enabled {
		return func() {}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, s.logger)
	start := time.Now()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire admission slot: %w", ctx.Err())
	}

	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		<-s.sem
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := s.lock.TryLockContext(ctx, s.retry)
	if err == nil && !ok {
		err = errLockBusy
	}
	if err != nil {
		<-s.sem
		return nil, fmt.Errorf("acquire admission lock %s: %w", s.lockPath, err)
	}

	if waited := time.Since(start); waited > s.retry {
		logger.Info("admission slot acquired", logging.Duration("waited", waited), logging.String("lock", s.lockPath))
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.release(logger) })
	}, nil
}

func (s *Slot) release(logger *slog.Logger) {
	if err := s.lock.Unlock(); err != nil {
		logging.WarnWithContext(logger, "failed to release admission lock", "admission_unlock_failed",
			logging.Error(err),
			logging.String("lock", s.lockPath),
			logging.String(logging.FieldImpact, "other processes may wait until this process exits"),
		)
	}
	<-s.sem
}

func sanitizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
