package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateConverter(); err != nil {
		return err
	}
	if err := c.validateGPU(); err != nil {
		return err
	}
	if err := c.validateUploads(); err != nil {
		return err
	}
	if c.Tables.SheetsPerFile <= 0 {
		return errors.New("tables.sheets_per_file must be positive")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		return errors.New("paths.upload_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.UploadDir == c.Paths.OutputDir {
		return errors.New("paths.upload_dir and paths.output_dir must differ")
	}
	return nil
}

func (c *Config) validateConverter() error {
	if strings.TrimSpace(c.Converter.Command) == "" {
		return errors.New("converter.command must be set (or export MARKER_CLI)")
	}
	if strings.ContainsAny(c.Converter.ExpectedExtension, `/\`) {
		return fmt.Errorf("converter.expected_extension %q must not contain path separators", c.Converter.ExpectedExtension)
	}
	if c.Converter.TimeoutSeconds < 0 {
		return errors.New("converter.timeout_seconds must be >= 0 (0 disables the watchdog)")
	}
	for _, entry := range c.Converter.Env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("converter.env entry %q must be KEY=VALUE", entry)
		}
	}
	return nil
}

func (c *Config) validateGPU() error {
	return ensurePositiveMap(map[string]int{
		"gpu.temperature_threshold_c": c.GPU.TemperatureThresholdC,
		"gpu.poll_interval_seconds":   c.GPU.PollIntervalSeconds,
		"gpu.wait_timeout_seconds":    c.GPU.WaitTimeoutSeconds,
		"gpu.query_timeout_seconds":   c.GPU.QueryTimeoutSeconds,
	}, map[string]int{
		"gpu.min_free_memory_mb": c.GPU.MinFreeMemoryMB,
	})
}

func (c *Config) validateUploads() error {
	if c.Uploads.MaxUploadMB <= 0 {
		return errors.New("uploads.max_upload_mb must be positive")
	}
	if c.Uploads.RetentionKeep < 0 {
		return errors.New("uploads.retention_keep must be >= 0")
	}
	return nil
}

func ensurePositiveMap(positive map[string]int, nonNegative map[string]int) error {
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	for key, value := range nonNegative {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
