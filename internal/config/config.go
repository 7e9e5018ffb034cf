package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadDir string `toml:"upload_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	LockDir   string `toml:"lock_dir"`
	EnvFile   string `toml:"env_file"`
	APIBind   string `toml:"api_bind"`
}

// Converter describes how the external document-conversion tool is invoked.
type Converter struct {
	Command            string   `toml:"command"`
	Flags              []string `toml:"flags"`
	ExpectedExtension  string   `toml:"expected_extension"`
	AlternateOutputDir string   `toml:"alternate_output_dir"`
	// TimeoutSeconds bounds a single conversion run. Zero leaves the run unbounded.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// Env holds KEY=VALUE overrides appended to the inherited environment.
	Env []string `toml:"env"`
	// ScrapeOutput enables discovering output paths mentioned in the tool's
	// stdout/stderr when the canonical path is missing.
	ScrapeOutput bool `toml:"scrape_output"`
}

// GPU contains telemetry and readiness thresholds for the accelerator gate.
type GPU struct {
	Command               string `toml:"command"`
	TemperatureThresholdC int    `toml:"temperature_threshold_c"`
	MinFreeMemoryMB       int    `toml:"min_free_memory_mb"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	WaitTimeoutSeconds    int    `toml:"wait_timeout_seconds"`
	QueryTimeoutSeconds   int    `toml:"query_timeout_seconds"`
}

// Admission controls serialization of heavy conversion runs.
type Admission struct {
	Enabled bool `toml:"enabled"`
}

// Uploads contains upload validation and retention settings.
type Uploads struct {
	AllowedExtensions []string `toml:"allowed_extensions"`
	MaxUploadMB       int      `toml:"max_upload_mb"`
	RetentionKeep     int      `toml:"retention_keep"`
}

// Tables contains spreadsheet export settings.
type Tables struct {
	SheetsPerFile int    `toml:"sheets_per_file"`
	ExcelDir      string `toml:"excel_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Config encapsulates all configuration values for markergate.
//
// Configuration sections by subsystem:
//   - Paths: upload/output/log/lock directories and API bind address
//   - Converter: external conversion command, flags, and output discovery
//   - GPU: telemetry command and readiness thresholds
//   - Admission: single-slot serialization of conversion runs
//   - Uploads: accepted file types, size cap, and retention
//   - Tables: markdown table to spreadsheet export
//   - Logging: log format, level, and rotation
//
// A Config is loaded once per process and treated as read-only afterwards.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Converter Converter `toml:"converter"`
	GPU       GPU       `toml:"gpu"`
	Admission Admission `toml:"admission"`
	Uploads   Uploads   `toml:"uploads"`
	Tables    Tables    `toml:"tables"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/markergate/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.loadEnvFile(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("markergate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadEnvFile overlays variables from the configured dotenv file. Variables
// already present in the process environment win.
func (c *Config) loadEnvFile() error {
	envFile := strings.TrimSpace(c.Paths.EnvFile)
	if envFile == "" {
		return nil
	}
	expanded, err := expandPath(envFile)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	c.Paths.EnvFile = expanded
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

// EnsureDirectories creates the directories markergate writes into. The
// alternate converter output directory belongs to the external tool and is
// left alone.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.UploadDir, c.Paths.OutputDir, c.Paths.LogDir, c.Paths.LockDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns the readiness poll interval.
func (g GPU) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSeconds) * time.Second
}

// WaitTimeout returns the maximum time the readiness gate may block.
func (g GPU) WaitTimeout() time.Duration {
	return time.Duration(g.WaitTimeoutSeconds) * time.Second
}

// QueryTimeout bounds a single telemetry query.
func (g GPU) QueryTimeout() time.Duration {
	return time.Duration(g.QueryTimeoutSeconds) * time.Second
}

// Timeout returns the conversion watchdog, or zero when runs are unbounded.
func (c Converter) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size cap in bytes.
func (u Uploads) MaxUploadBytes() int64 {
	return int64(u.MaxUploadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
