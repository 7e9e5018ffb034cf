package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"markergate/internal/conversion"
	"markergate/internal/gpu"
	"markergate/internal/readiness"
	"markergate/internal/services"
	"markergate/internal/tables"
	"markergate/internal/testsupport"
	"markergate/internal/uploads"
)

type converterStub struct {
	inputs []string
	output string
	err    error
}

func (c *converterStub) Convert(_ context.Context, inputPath string) (conversion.Outcome, error) {
	c.inputs = append(c.inputs, inputPath)
	if c.err != nil {
		return conversion.Outcome{InputPath: inputPath}, c.err
	}
	return conversion.Outcome{InputPath: inputPath, OutputPath: c.output}, nil
}

type gateStub struct {
	snapshot gpu.Snapshot
	verdict  readiness.Verdict
}

func (g gateStub) Check(context.Context) (gpu.Snapshot, readiness.Verdict) {
	return g.snapshot, g.verdict
}

type presenceStub struct{ present bool }

func (p presenceStub) Present(context.Context) bool { return p.present }
func (p presenceStub) Summary(context.Context) string {
	return "NVIDIA RTX A4000, 16376, 15000"
}

func newTestServer(t *testing.T, conv Converter) (*Server, string, string) {
	t.Helper()
	base := t.TempDir()
	uploadDir := filepath.Join(base, "uploads")
	outputDir := filepath.Join(base, "outputs")
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	deps := Deps{
		Converter: conv,
		Uploads:   uploads.NewStore(uploadDir, []string{".pdf", ".png"}, 1<<20, nil),
		Tables:    tables.NewExporter(outputDir, "", 2, nil),
		Gate:      gateStub{verdict: readiness.Verdict{Ready: true}},
		Presence:  presenceStub{},
		OutputDir: outputDir,
	}
	return New("127.0.0.1:0", deps, nil), uploadDir, outputDir
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &converterStub{})
	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _, _ := newTestServer(t, &converterStub{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := do(t, srv, req)
	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestUploadSuccess(t *testing.T) {
	conv := &converterStub{output: "/outputs/report.md"}
	srv, uploadDir, _ := newTestServer(t, conv)

	body, ct := multipartBody(t, "file", "report.pdf", "%PDF-1.7")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := do(t, srv, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "success" || resp.Filename != "report.pdf" || resp.OutputPath != "/outputs/report.md" {
		t.Fatalf("unexpected response %#v", resp)
	}
	if resp.ProcessingTimeSeconds < 0 {
		t.Fatalf("negative processing time %v", resp.ProcessingTimeSeconds)
	}
	if len(conv.inputs) != 1 || conv.inputs[0] != filepath.Join(uploadDir, "report.pdf") {
		t.Fatalf("converter received %v", conv.inputs)
	}
	if got := testsupport.ReadText(t, conv.inputs[0]); got != "%PDF-1.7" {
		t.Fatalf("saved upload content %q", got)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	conv := &converterStub{}
	srv, _, _ := newTestServer(t, conv)

	body, ct := multipartBody(t, "file", "payload.exe", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := do(t, srv, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(decodeError(t, w), "not supported") {
		t.Fatalf("unexpected error %q", w.Body.String())
	}
	if len(conv.inputs) != 0 {
		t.Fatal("converter should not run for rejected uploads")
	}
}

func TestUploadMissingField(t *testing.T) {
	srv, _, _ := newTestServer(t, &converterStub{})
	body, ct := multipartBody(t, "document", "report.pdf", "%PDF")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	if w := do(t, srv, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"job failed", &services.JobError{Input: "a.pdf", ExitCode: 2, Stderr: "out of memory"}, http.StatusInternalServerError},
		{"readiness timeout", &readiness.TimeoutError{Timeout: time.Second}, http.StatusServiceUnavailable},
		{"job timeout", services.Wrap(services.ErrJobTimeout, "convert", "run", "watchdog", nil), http.StatusGatewayTimeout},
		{"output missing", services.Wrap(services.ErrOutputNotFound, "resolve", "", "a.md", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, &converterStub{err: tc.err})
			body, ct := multipartBody(t, "file", "a.pdf", "%PDF")
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", ct)
			w := do(t, srv, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if decodeError(t, w) != tc.err.Error() {
				t.Fatalf("error body %q does not carry %q", w.Body.String(), tc.err.Error())
			}
		})
	}
}

func TestDownload(t *testing.T) {
	srv, _, outputDir := newTestServer(t, &converterStub{})
	testsupport.WriteText(t, filepath.Join(outputDir, "report.md"), "# Report\n")

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/download/report.md", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/markdown" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Body.String() != "# Report\n" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}

	missing := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/download/absent.md", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}

	traversal := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/download/..", nil))
	if traversal.Code == http.StatusOK {
		t.Fatal("expected traversal to be refused")
	}
}

func TestTablesExport(t *testing.T) {
	srv, _, outputDir := newTestServer(t, &converterStub{})
	md := "# Doc\n\n| a | b |\n|---|---|\n| 1 | x |\n\ntext\n\n| c |\n|---|\n| 2 |\n\n| d |\n|---|\n| 3 |\n"
	testsupport.WriteText(t, filepath.Join(outputDir, "doc.md"), md)

	w := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/tables/doc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp TablesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Document != "doc" || resp.TableCount != 3 || len(resp.ExcelFiles) != 2 {
		t.Fatalf("unexpected response %#v", resp)
	}
	if resp.ExcelDir != filepath.Join(outputDir, "doc", "tables_xlsx_doc") {
		t.Fatalf("unexpected excel dir %q", resp.ExcelDir)
	}

	missing := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/tables/nothing", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestGPUReport(t *testing.T) {
	srv, _, _ := newTestServer(t, &converterStub{})
	srv.deps.Presence = presenceStub{present: true}
	srv.deps.Gate = gateStub{
		snapshot: gpu.Snapshot{Devices: []gpu.Device{{Index: 0, TemperatureC: 90, MemoryTotalMB: 16000, MemoryUsedMB: 1000}}},
		verdict: readiness.Verdict{Unsafe: []readiness.Violation{{
			Device:  gpu.Device{Index: 0, TemperatureC: 90},
			Reasons: []string{"temperature 90C >= 85C"},
		}}},
	}

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/gpu", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp GPUResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Present || resp.Summary == "" || resp.Verdict.Ready || len(resp.Verdict.Unsafe) != 1 {
		t.Fatalf("unexpected response %#v", resp)
	}
	if len(resp.Snapshot.Devices) != 1 || resp.Snapshot.Devices[0].TemperatureC != 90 {
		t.Fatalf("unexpected snapshot %#v", resp.Snapshot)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, &converterStub{})
	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestServerEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScript("fake_marker", `out="$MARKERGATE_TEST_OUT/$(basename "$1" .pdf).md"
echo "| h |" > "$out"
echo "|---|" >> "$out"
echo "| 1 |" >> "$out"`))
	t.Setenv("MARKERGATE_TEST_OUT", cfg.Paths.OutputDir)
	cfg.Converter.Command = "fake_marker"
	cfg.Converter.Flags = nil

	srv, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()
	base := "http://" + srv.Addr()

	body, ct := multipartBody(t, "file", "quarterly.pdf", "%PDF")
	resp, err := http.Post(base+"/api/upload", ct, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var up UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if up.OutputPath != filepath.Join(cfg.Paths.OutputDir, "quarterly.md") {
		t.Fatalf("unexpected output path %q", up.OutputPath)
	}

	dl, err := http.Get(base + "/api/download/quarterly.md")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	raw, _ := io.ReadAll(dl.Body)
	if dl.StatusCode != http.StatusOK || !strings.HasPrefix(string(raw), "| h |") {
		t.Fatalf("unexpected download %d %q", dl.StatusCode, raw)
	}

	tb, err := http.Post(base+"/api/tables/quarterly", "application/json", nil)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	defer tb.Body.Close()
	var tr TablesResponse
	if err := json.NewDecoder(tb.Body).Decode(&tr); err != nil {
		t.Fatalf("decode tables: %v", err)
	}
	if tr.TableCount != 1 || len(tr.ExcelFiles) != 1 {
		t.Fatalf("unexpected tables response %#v", tr)
	}
}
