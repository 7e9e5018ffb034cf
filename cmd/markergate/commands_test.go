package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"markergate/internal/testsupport"
)

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Summary: [")
	requireContains(t, out, "Upload directory")
	requireContains(t, out, "Converter command")
}

func TestConvertCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithScript("fake_marker", `out="$MARKERGATE_TEST_OUT/$(basename "$1" .pdf).md"
echo "# converted" > "$out"`))
	t.Setenv("MARKERGATE_TEST_OUT", env.cfg.Paths.OutputDir)
	env.cfg.Converter.Command = "fake_marker"
	env.cfg.Converter.Flags = nil
	env.writeConfig(t)

	input := testsupport.WriteText(t, filepath.Join(env.baseDir, "report.pdf"), "%PDF")
	out, _, err := runCLI(t, []string{"convert", "--json", input}, env.configPath)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	var summary convertSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if summary.Output != filepath.Join(env.cfg.Paths.OutputDir, "report.md") {
		t.Fatalf("unexpected output %q", summary.Output)
	}
	if summary.RequestID == "" || summary.Relocated {
		t.Fatalf("unexpected summary %#v", summary)
	}
}

func TestConvertCommandReportsFailure(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithScript("failing_marker", `echo "out of memory" >&2
exit 2`))
	env.cfg.Converter.Command = "failing_marker"
	env.writeConfig(t)

	input := testsupport.WriteText(t, filepath.Join(env.baseDir, "big.pdf"), "%PDF")
	_, _, err := runCLI(t, []string{"convert", input}, env.configPath)
	if err == nil {
		t.Fatal("expected failure")
	}
	requireContains(t, err.Error(), "out of memory")
}

func TestGPUStatusWithoutTelemetry(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"gpu", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("gpu status: %v", err)
	}
	requireContains(t, out, "No GPU telemetry available")
}

func TestGPUStatusTable(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithScript("fake-smi", `case "$1" in
--query-gpu=index*) printf '0, 45, 16000, 2000\n1, 91, 16000, 15500\n' ;;
-L) echo "GPU 0: Test" ;;
*) echo "Test, 16000, 14000" ;;
esac`))
	env.cfg.GPU.Command = "fake-smi"
	env.writeConfig(t)

	out, _, err := runCLI(t, []string{"gpu", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("gpu status: %v", err)
	}
	requireContains(t, out, "unsafe: ")
	requireContains(t, out, "Ready: no")
}

func TestTablesCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.OutputDir, "doc", "doc.md"), "| a | b |\n|---|---|\n| 1 | 2 |\n")

	out, _, err := runCLI(t, []string{"tables", "doc"}, env.configPath)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	requireContains(t, out, "Tables: 1")
	want := filepath.Join(env.cfg.Paths.OutputDir, "doc", "tables_xlsx_doc", "tables_1.xlsx")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected workbook %s: %v", want, err)
	}

	if _, _, err := runCLI(t, []string{"tables", "missing"}, env.configPath); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestPruneCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	now := time.Now()
	for i, name := range []string{"old.pdf", "mid.pdf", "new.pdf"} {
		testsupport.WriteTextAt(t, filepath.Join(env.cfg.Paths.UploadDir, name), "x", now.Add(time.Duration(i)*time.Minute))
	}

	out, _, err := runCLI(t, []string{"prune", "--keep", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "kept 1, removed 2")
	entries, err := os.ReadDir(env.cfg.Paths.UploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "new.pdf" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected remaining entries %s", strings.Join(names, ","))
	}
}

func TestPruneRetentionDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Uploads.RetentionKeep = 0
	env.writeConfig(t)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		testsupport.WriteText(t, filepath.Join(env.cfg.Paths.UploadDir, name), "x")
	}

	out, _, err := runCLI(t, []string{"prune"}, env.configPath)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "Retention disabled")
	if entries, _ := os.ReadDir(env.cfg.Paths.UploadDir); len(entries) != 2 {
		t.Fatalf("expected uploads untouched, got %d entries", len(entries))
	}

	out, _, err = runCLI(t, []string{"prune", "--keep", "0"}, env.configPath)
	if err != nil {
		t.Fatalf("prune --keep 0: %v", err)
	}
	requireContains(t, out, "kept 0, removed 2")
	if entries, _ := os.ReadDir(env.cfg.Paths.UploadDir); len(entries) != 0 {
		t.Fatalf("expected empty upload dir, got %d entries", len(entries))
	}
}

func TestPruneAll(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.UploadDir, "a.pdf"), "x")

	out, _, err := runCLI(t, []string{"prune", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("prune --all: %v", err)
	}
	requireContains(t, out, "kept 0, removed 1")

	if _, _, err := runCLI(t, []string{"prune", "--all", "--keep", "2"}, env.configPath); err == nil {
		t.Fatal("expected --all and --keep to conflict")
	}
}
