package gpu_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"markergate/internal/gpu"
)

type stubExecutor struct {
	outputs map[string]string
	err     error
	calls   [][]string
}

func (s *stubExecutor) Output(_ context.Context, binary string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{binary}, args...))
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.outputs[strings.Join(args, " ")]), nil
}

const telemetryArgs = "--query-gpu=index,temperature.gpu,memory.total,memory.used --format=csv,noheader,nounits"

func TestSnapshotParsesDevices(t *testing.T) {
	stub := &stubExecutor{outputs: map[string]string{
		telemetryArgs: "0, 45, 24576, 1024\n1, 81, 24576, 23000\n",
	}}
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	probe := gpu.NewProbe("", time.Second, gpu.WithExecutor(stub), gpu.WithClock(func() time.Time { return fixed }))

	snap := probe.Snapshot(context.Background())
	if len(snap.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", snap.Devices)
	}
	if !snap.Taken.Equal(fixed) {
		t.Fatalf("unexpected timestamp %v", snap.Taken)
	}
	second := snap.Devices[1]
	if second.Index != 1 || second.TemperatureC != 81 || second.MemoryFreeMB() != 1576 {
		t.Fatalf("unexpected device %+v", second)
	}
	if stub.calls[0][0] != gpu.DefaultCommand {
		t.Fatalf("expected default binary, got %q", stub.calls[0][0])
	}
}

func TestSnapshotEmptyOnFailure(t *testing.T) {
	cases := map[string]*stubExecutor{
		"missing binary": {err: exec.ErrNotFound},
		"non-zero exit":  {err: errors.New("exit status 9")},
		"garbage":        {outputs: map[string]string{telemetryArgs: "0, [N/A], 100, 10\n"}},
		"no rows":        {outputs: map[string]string{telemetryArgs: "\n"}},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			snap := gpu.NewProbe("nvidia-smi", 0, gpu.WithExecutor(stub)).Snapshot(context.Background())
			if !snap.Empty() {
				t.Fatalf("expected empty snapshot, got %+v", snap.Devices)
			}
		})
	}
}

func TestParseTelemetrySkipsShortRows(t *testing.T) {
	devices, err := gpu.ParseTelemetry([]byte("0, 40\n2, 50, 8000, 2000\n"))
	if err != nil {
		t.Fatalf("ParseTelemetry: %v", err)
	}
	if len(devices) != 1 || devices[0].Index != 2 {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestPresentAndSummary(t *testing.T) {
	stub := &stubExecutor{outputs: map[string]string{
		"-L": "GPU 0: NVIDIA RTX A5000 (UUID: GPU-1234)\n",
		"--query-gpu=name,memory.total,memory.free --format=csv,noheader,nounits": "NVIDIA RTX A5000, 24564, 23000\n",
	}}
	probe := gpu.NewProbe("nvidia-smi", time.Second, gpu.WithExecutor(stub))
	if !probe.Present(context.Background()) {
		t.Fatal("expected device present")
	}
	if got := probe.Summary(context.Background()); got != "NVIDIA RTX A5000, 24564, 23000" {
		t.Fatalf("unexpected summary %q", got)
	}

	failing := gpu.NewProbe("nvidia-smi", time.Second, gpu.WithExecutor(&stubExecutor{err: exec.ErrNotFound}))
	if failing.Present(context.Background()) || failing.Summary(context.Background()) != "" {
		t.Fatal("expected absent device and empty summary on failure")
	}
}

type blockingExecutor struct{}

func (blockingExecutor) Output(ctx context.Context, _ string, _ ...string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSnapshotBoundedByQueryTimeout(t *testing.T) {
	probe := gpu.NewProbe("nvidia-smi", 20*time.Millisecond, gpu.WithExecutor(blockingExecutor{}))
	start := time.Now()
	snap := probe.Snapshot(context.Background())
	if !snap.Empty() {
		t.Fatal("expected empty snapshot after timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("query not bounded, took %v", elapsed)
	}
}
