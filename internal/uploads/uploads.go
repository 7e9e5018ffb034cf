// Package uploads validates and stores incoming documents and prunes old
// files from the upload and output directories.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"markergate/internal/config"
	"markergate/internal/logging"
	"markergate/internal/services"
)

const fallbackName = "upload"

// Store saves uploads into a single directory.
type Store struct {
	dir      string
	allowed  map[string]struct{}
	maxBytes int64
	logger   *slog.Logger
}

// NewStore constructs a store. allowed holds dot-prefixed, lower-case
// extensions; maxBytes <= 0 disables the size cap.
func NewStore(dir string, allowed []string, maxBytes int64, logger *slog.Logger) *Store {
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &Store{
		dir:      dir,
		allowed:  set,
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger(logger, "uploads"),
	}
}

// NewStoreFromConfig builds a store for paths.upload_dir.
func NewStoreFromConfig(cfg *config.Config, logger *slog.Logger) *Store {
	return NewStore(cfg.Paths.UploadDir, cfg.Uploads.AllowedExtensions, cfg.Uploads.MaxUploadBytes(), logger)
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Accepts reports whether a file may be uploaded. The extension allowlist is
// checked first; a PDF or image content type is accepted as a fallback.
func (s *Store) Accepts(filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := s.allowed[ext]; ok {
		return nil
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "image/") || ct == "application/pdf" {
		return nil
	}
	return services.Wrap(services.ErrInvalidInput, "upload", "validate",
		fmt.Sprintf("uploaded file type not supported: %q / %q", ext, ct), nil)
}

// Save validates and writes r into the upload directory, returning the
// stored path. The file is written to a temp name and renamed into place;
// an existing upload with the same name is replaced.
func (s *Store) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	name := SanitizeFilename(filename)
	if err := s.Accepts(name, contentType); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		cleanup()
		return "", services.Wrap(services.ErrInvalidInput, "upload", "validate",
			fmt.Sprintf("upload exceeds %d bytes", s.maxBytes), nil)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close upload: %w", err)
	}

	target := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("store upload: %w", err)
	}
	logging.WithContext(ctx, s.logger).Info("upload saved",
		logging.String("path", target),
		logging.Int64("size_bytes", written),
	)
	return target, nil
}

// SanitizeFilename reduces a client-supplied name to a safe base name in NFC form.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(norm.NFC.String(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return fallbackName
	}
	return name
}

// ResolveExisting returns the path of name inside dir when it is a regular
// file. name must be a plain base name.
func ResolveExisting(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", services.Wrap(services.ErrInvalidInput, "download", "validate", fmt.Sprintf("invalid file name %q", name), nil)
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "download", "lookup", name, nil)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", services.Wrap(services.ErrNotFound, "download", "lookup", name, nil)
	}
	return path, nil
}
