package conversion_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"markergate/internal/conversion"
	"markergate/internal/converter"
	"markergate/internal/readiness"
	"markergate/internal/resolver"
	"markergate/internal/services"
	"markergate/internal/testsupport"
)

type recorder struct {
	events []string
}

type stubAdmitter struct{ rec *recorder }

func (s stubAdmitter) Acquire(context.Context) (func(), error) {
	s.rec.events = append(s.rec.events, "acquire")
	return func() { s.rec.events = append(s.rec.events, "release") }, nil
}

type stubGate struct {
	rec *recorder
	err error
}

func (s stubGate) AwaitReady(context.Context) (readiness.Outcome, error) {
	s.rec.events = append(s.rec.events, "gate")
	return readiness.Outcome{}, s.err
}

type stubInvoker struct {
	rec    *recorder
	result converter.Result
	err    error
}

func (s stubInvoker) Run(_ context.Context, req converter.Request) (converter.Result, error) {
	s.rec.events = append(s.rec.events, "run:"+filepath.Base(req.InputPath))
	return s.result, s.err
}

type stubResolver struct {
	rec  *recorder
	path string
	err  error
}

func (s stubResolver) Resolve(context.Context, string, converter.Result) (resolver.Resolution, error) {
	s.rec.events = append(s.rec.events, "resolve")
	return resolver.Resolution{Path: s.path}, s.err
}

func TestConvertRunsStagesInOrder(t *testing.T) {
	rec := &recorder{}
	p := conversion.New(stubAdmitter{rec}, stubGate{rec: rec}, stubInvoker{rec: rec}, stubResolver{rec: rec, path: "/out/a.md"}, nil)

	outcome, err := p.Convert(context.Background(), "/in/a.pdf")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if outcome.OutputPath != "/out/a.md" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	want := "acquire,gate,run:a.pdf,release,resolve"
	if got := strings.Join(rec.events, ","); got != want {
		t.Fatalf("event order %s, want %s", got, want)
	}
}

func TestConvertNonZeroExitSkipsResolution(t *testing.T) {
	rec := &recorder{}
	invoker := stubInvoker{rec: rec, result: converter.Result{ExitCode: 2, Stderr: "out of memory"}}
	p := conversion.New(nil, stubGate{rec: rec}, invoker, stubResolver{rec: rec}, nil)

	outcome, err := p.Convert(context.Background(), "/in/big.pdf")
	if !errors.Is(err, services.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	var jobErr *services.JobError
	if !errors.As(err, &jobErr) || jobErr.Stderr != "out of memory" || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("stderr not carried verbatim: %v", err)
	}
	if outcome.OutputPath != "" {
		t.Fatalf("no output path expected, got %q", outcome.OutputPath)
	}
	for _, ev := range rec.events {
		if ev == "resolve" {
			t.Fatal("resolver invoked after non-zero exit")
		}
	}
}

func TestConvertReadinessTimeoutStopsBeforeRun(t *testing.T) {
	rec := &recorder{}
	gateErr := &readiness.TimeoutError{Elapsed: 2 * time.Second, Timeout: time.Second}
	p := conversion.New(stubAdmitter{rec}, stubGate{rec: rec, err: gateErr}, stubInvoker{rec: rec}, stubResolver{rec: rec}, nil)

	_, err := p.Convert(context.Background(), "/in/a.pdf")
	if !errors.Is(err, services.ErrReadinessTimeout) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if got := strings.Join(rec.events, ","); got != "acquire,gate,release" {
		t.Fatalf("unexpected events %s", got)
	}
	if services.HTTPStatus(err) != 503 {
		t.Fatalf("expected 503 mapping, got %d", services.HTTPStatus(err))
	}
}

func TestConvertEndToEndCanonicalOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScript("fake_marker", `out="$MARKERGATE_TEST_OUT/$(basename "$1" .pdf).md"
echo "# converted" > "$out"
echo "wrote $out"`))
	t.Setenv("MARKERGATE_TEST_OUT", cfg.Paths.OutputDir)
	cfg.Converter.Command = "fake_marker"
	cfg.Converter.Flags = nil

	input := testsupport.WriteText(t, filepath.Join(cfg.Paths.UploadDir, "report.pdf"), "%PDF")
	p, parts, err := conversion.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if parts.Probe == nil || parts.Gate == nil {
		t.Fatal("expected probe and gate components")
	}

	outcome, err := p.Convert(context.Background(), input)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "report.md")
	if outcome.OutputPath != want || !outcome.Resolution.Canonical {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Readiness.Polls != 0 {
		t.Fatalf("missing telemetry must not poll, got %d polls", outcome.Readiness.Polls)
	}
}

func TestConvertEndToEndFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScript("failing_marker", `echo "out of memory" >&2
exit 2`))
	cfg.Converter.Command = "failing_marker"

	input := testsupport.WriteText(t, filepath.Join(cfg.Paths.UploadDir, "big.pdf"), "%PDF")
	p, _, err := conversion.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	_, err = p.Convert(context.Background(), input)
	var jobErr *services.JobError
	if !errors.As(err, &jobErr) || jobErr.ExitCode != 2 || !strings.Contains(jobErr.Stderr, "out of memory") {
		t.Fatalf("expected job error with stderr, got %v", err)
	}
}
