package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"markergate/internal/config"
	"markergate/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "log.json")
	logger, closer, err := New(Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("visible", String("key", "value"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"msg":"visible"`) || !strings.Contains(out, `"key":"value"`) || !strings.Contains(out, `"level":"info"`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}

func TestNewFromConfigWritesDebugFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "error"

	logger, closer, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Debug("debug detail", String("stderr", "traceback"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "debug detail") || !strings.Contains(string(data), "traceback") {
		t.Fatalf("expected debug record in rotated file, got %s", data)
	}
}

func TestPrettyHandlerHeaderAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	ctx := services.WithStage(services.WithJob(context.Background(), "report"), "resolve")
	logger = NewComponentLogger(WithContext(ctx, logger), "resolver")
	logger.Info("output relocated", String("output_path", "/out/report.md"), String(FieldCorrelationID, "abc"))

	out := buf.String()
	if !strings.Contains(out, "INFO [resolver] report (resolve) – output relocated") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "- output_path: /out/report.md") {
		t.Fatalf("missing field: %q", out)
	}
	if strings.Contains(out, "abc") || !strings.Contains(out, "+ 1 more field hidden") {
		t.Fatalf("correlation id should be hidden at info: %q", out)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WarnWithContext(logger, "relocation failed", "relocation_failed", String(FieldImpact, "output left in place"))

	out := buf.String()
	for _, want := range []string{`"event_type":"relocation_failed"`, `"error_hint":"check markergate.log for converter output"`, `"impact":"output left in place"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Count(out, `"impact"`) != 1 {
		t.Fatalf("caller impact should replace the default: %s", out)
	}
	WarnWithContext(nil, "ignored", "noop")
}

func TestFormatSubject(t *testing.T) {
	cases := map[[2]string]string{
		{"doc", "convert"}: "doc (convert)",
		{"doc", ""}:        "doc",
		{"", "gpu"}:        "gpu",
		{" ", " "}:         "",
	}
	for in, want := range cases {
		if got := FormatSubject(in[0], in[1]); got != want {
			t.Fatalf("FormatSubject(%q,%q)=%q want %q", in[0], in[1], got, want)
		}
	}
}
