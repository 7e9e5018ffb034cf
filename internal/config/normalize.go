package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeConverter(); err != nil {
		return err
	}
	c.normalizeGPU()
	c.normalizeUploads()
	if err := c.normalizeTables(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		if value, ok := os.LookupEnv("MARKERGATE_API_BIND"); ok {
			c.Paths.APIBind = strings.TrimSpace(value)
		}
	}
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeConverter() error {
	c.Converter.Command = strings.TrimSpace(c.Converter.Command)
	if c.Converter.Command == "" {
		if value, ok := os.LookupEnv("MARKER_CLI"); ok {
			c.Converter.Command = strings.TrimSpace(value)
		}
	}
	if c.Converter.Command == "" {
		c.Converter.Command = defaultConverterCommand
	}

	flags := make([]string, 0, len(c.Converter.Flags))
	for _, flag := range c.Converter.Flags {
		if trimmed := strings.TrimSpace(flag); trimmed != "" {
			flags = append(flags, trimmed)
		}
	}
	c.Converter.Flags = flags

	c.Converter.ExpectedExtension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Converter.ExpectedExtension)), ".")
	if c.Converter.ExpectedExtension == "" {
		c.Converter.ExpectedExtension = defaultExpectedExtension
	}

	c.Converter.AlternateOutputDir = strings.TrimSpace(c.Converter.AlternateOutputDir)
	if c.Converter.AlternateOutputDir == "" {
		if value, ok := os.LookupEnv("MARKER_OUTPUT_DIR"); ok {
			c.Converter.AlternateOutputDir = strings.TrimSpace(value)
		}
	}
	if c.Converter.AlternateOutputDir != "" {
		var err error
		if c.Converter.AlternateOutputDir, err = expandPath(c.Converter.AlternateOutputDir); err != nil {
			return fmt.Errorf("converter.alternate_output_dir: %w", err)
		}
	}

	env := make([]string, 0, len(c.Converter.Env))
	for _, entry := range c.Converter.Env {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			env = append(env, trimmed)
		}
	}
	c.Converter.Env = env
	return nil
}

func (c *Config) normalizeGPU() {
	c.GPU.Command = strings.TrimSpace(c.GPU.Command)
	if c.GPU.Command == "" {
		c.GPU.Command = defaultGPUCommand
	}
	if c.GPU.QueryTimeoutSeconds <= 0 {
		c.GPU.QueryTimeoutSeconds = defaultQueryTimeoutSeconds
	}
}

func (c *Config) normalizeUploads() {
	if len(c.Uploads.AllowedExtensions) == 0 {
		c.Uploads.AllowedExtensions = append([]string(nil), defaultAllowedExtensions...)
		return
	}
	exts := make([]string, 0, len(c.Uploads.AllowedExtensions))
	seen := make(map[string]struct{}, len(c.Uploads.AllowedExtensions))
	for _, ext := range c.Uploads.AllowedExtensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append([]string(nil), defaultAllowedExtensions...)
	}
	c.Uploads.AllowedExtensions = exts
}

func (c *Config) normalizeTables() error {
	if c.Tables.SheetsPerFile <= 0 {
		c.Tables.SheetsPerFile = defaultSheetsPerFile
	}
	c.Tables.ExcelDir = strings.TrimSpace(c.Tables.ExcelDir)
	if c.Tables.ExcelDir != "" {
		var err error
		if c.Tables.ExcelDir, err = expandPath(c.Tables.ExcelDir); err != nil {
			return fmt.Errorf("tables.excel_dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}
