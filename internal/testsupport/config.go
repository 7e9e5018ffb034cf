package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"markergate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The GPU command points at a binary that does not exist, so telemetry is
// empty unless a test stubs it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockDir = filepath.Join(base, "run")
	cfgVal.Paths.EnvFile = ""
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Converter.Command = "marker_single"
	cfgVal.GPU.Command = filepath.Join(base, "bin", "nvidia-smi-missing")
	cfgVal.GPU.PollIntervalSeconds = 1
	cfgVal.GPU.WaitTimeoutSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithConverter overrides the converter command and flags.
func WithConverter(command string, flags ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Converter.Command = command
		b.cfg.Converter.Flags = append([]string(nil), flags...)
	}
}

// WithScript writes an executable /bin/sh script named name, with body after
// the shebang, into the stub bin directory and prepends it to PATH.
func WithScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := stubDir(b)
		target := filepath.Join(binDir, name)
		script := []byte("#!/bin/sh\n" + body + "\n")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"marker_single", "nvidia-smi"}
		}
		binDir := stubDir(b)
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
	}
}

func stubDir(b *configBuilder) string {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	oldPath := os.Getenv("PATH")
	if filepath.SplitList(oldPath)[0] == binDir {
		return binDir
	}
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		b.t.Fatalf("set PATH: %v", err)
	}
	b.t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
	return binDir
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UploadDir)
}
