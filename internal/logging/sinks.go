package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// toolOutputKeys carry raw converter output. They can run to megabytes, so
// the console only sees their size while the debug file keeps them whole.
var toolOutputKeys = map[string]struct{}{
	"stdout":           {},
	"stderr":           {},
	"converter_output": {},
}

// splitHandler writes every record to the console and to the rotated debug
// file, each gated by its own level.
type splitHandler struct {
	console slog.Handler
	file    slog.Handler
}

func newSplitHandler(console, file slog.Handler) slog.Handler {
	switch {
	case console == nil && file == nil:
		return NoopHandler{}
	case file == nil:
		return console
	case console == nil:
		return file
	}
	return &splitHandler{console: console, file: file}
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if h.file.Enabled(ctx, record.Level) {
		errs = append(errs, h.file.Handle(ctx, record.Clone()))
	}
	if h.console.Enabled(ctx, record.Level) {
		errs = append(errs, h.console.Handle(ctx, summarizeToolOutput(record)))
	}
	return errors.Join(errs...)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{console: h.console.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{console: h.console.WithGroup(name), file: h.file.WithGroup(name)}
}

// summarizeToolOutput replaces converter output attributes with their size
// and a pointer to the debug file. Records without such attributes pass
// through untouched.
func summarizeToolOutput(record slog.Record) slog.Record {
	found := false
	record.Attrs(func(a slog.Attr) bool {
		if _, ok := toolOutputKeys[a.Key]; ok {
			found = true
			return false
		}
		return true
	})
	if !found {
		return record
	}
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		if _, ok := toolOutputKeys[a.Key]; ok {
			text := a.Value.Resolve().String()
			if text == "" {
				return true
			}
			a = slog.String(a.Key, fmt.Sprintf("%d bytes (full text in %s)", len(text), LogFileName))
		}
		out.AddAttrs(a)
		return true
	})
	return out
}

// newFileHandler renders JSON lines for the debug file and for the json
// console format. Durations are written as fractional seconds so GPU waits
// and run times can be compared without parsing Go duration strings.
func newFileHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: fileAttr,
	})
}

func fileAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
		}
		attr.Key = "ts"
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	if attr.Value.Kind() == slog.KindDuration {
		return slog.Float64(attr.Key+"_seconds", attr.Value.Duration().Seconds())
	}
	return attr
}
