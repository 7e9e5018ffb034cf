package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// copyFileVerified copies src to dst, fsyncs it, then re-reads dst and
// compares size and SHA-256 with the source. dst is removed on mismatch.
func copyFileVerified(src, dst string, mode os.FileMode) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("sync copy: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}

	dstSum, err := hashFile(dst)
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("verify copy: %w", err)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstSum) {
		_ = os.Remove(dst)
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Publish moves src into dstDir keeping its base name and returns the new
// path. Within one filesystem this is a single rename. Across filesystems the
// file is copied to a hidden temp file in dstDir, verified, renamed into
// place, and only then is src removed, so dstDir never exposes a partial
// file. An existing file of the same name is replaced.
func Publish(src, dstDir string) (string, error) {
	return publish(src, dstDir, os.Rename)
}

func publish(src, dstDir string, rename func(string, string) error) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("publish %s: not a regular file", src)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))

	err = rename(src, dst)
	if err == nil {
		return dst, nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return "", fmt.Errorf("rename into %s: %w", dstDir, err)
	}

	tmp, err := os.CreateTemp(dstDir, "."+filepath.Base(src)+".*.partial")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := copyFileVerified(src, tmpPath, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("copy across filesystems: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename temp into place: %w", err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("remove source after copy: %w", err)
	}
	return dst, nil
}

// Canonical returns the absolute, symlink-evaluated form of path, falling back
// to the cleaned absolute path when evaluation fails.
func Canonical(path string) string {
	return canonical(path)
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
