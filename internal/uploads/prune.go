package uploads

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"markergate/internal/logging"
)

// PruneResult contains the outcome of a retention pass.
type PruneResult struct {
	Kept    int
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a path with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// Prune keeps the keep most recently modified entries in dir and removes the
// rest, directories included. keep <= 0 empties the directory.
func Prune(ctx context.Context, dir string, keep int, logger *slog.Logger) PruneResult {
	result := PruneResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, PruneError{Path: dir, Error: err})
		}
		return result
	}

	type aged struct {
		path    string
		modTime time.Time
	}
	items := make([]aged, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			continue
		}
		items = append(items, aged{path: path, modTime: info.ModTime()})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].modTime.Equal(items[j].modTime) {
			return items[i].modTime.After(items[j].modTime)
		}
		return items[i].path < items[j].path
	})

	if keep < 0 {
		keep = 0
	}
	if keep > len(items) {
		keep = len(items)
	}
	result.Kept = keep

	for _, item := range items[keep:] {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		if err := os.RemoveAll(item.path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: item.path, Error: err})
			logger.Warn("failed to prune entry",
				logging.String("path", item.path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "retention_failed"),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, item.path)
		logger.Debug("pruned entry",
			logging.String("path", item.path),
			logging.Duration("age", time.Since(item.modTime)),
			logging.String(logging.FieldEventType, "retention_cleanup"),
		)
	}
	if len(result.Removed) > 0 {
		logger.Info("retention pass complete",
			logging.String("dir", dir),
			logging.Int("removed", len(result.Removed)),
			logging.Int("kept", result.Kept),
		)
	}
	return result
}
