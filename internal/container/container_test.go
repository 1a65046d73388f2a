package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loykin/accelguard/internal/runner"
)

// fakeRunner scripts engine CLI responses and records invocations.
type fakeRunner struct {
	calls [][]string
	fn    func(args []string) (runner.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (runner.Result, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	return f.fn(args)
}

func (f *fakeRunner) verbs() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c[1])
	}
	return out
}

func inspectRunning(running bool) func([]string) (runner.Result, error) {
	return func(args []string) (runner.Result, error) {
		if args[0] == "container" && args[1] == "inspect" {
			if running {
				return runner.Result{Stdout: "true\n"}, nil
			}
			return runner.Result{Stdout: "false\n"}, nil
		}
		return runner.Result{}, nil
	}
}

func inspectAbsent() func([]string) (runner.Result, error) {
	return func(args []string) (runner.Result, error) {
		if args[0] == "container" && args[1] == "inspect" {
			return runner.Result{ExitCode: 1, Stderr: "Error: no such container"}, nil
		}
		return runner.Result{}, nil
	}
}

func TestExistsAndIsRunning(t *testing.T) {
	fr := &fakeRunner{fn: inspectRunning(true)}
	m := New("docker", fr)
	ok, err := m.Exists(context.Background(), "npu0")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	running, err := m.IsRunning(context.Background(), "npu0")
	if err != nil || !running {
		t.Fatalf("IsRunning: running=%v err=%v", running, err)
	}
}

func TestAbsentContainer(t *testing.T) {
	fr := &fakeRunner{fn: inspectAbsent()}
	m := New("docker", fr)
	ok, err := m.Exists(context.Background(), "npu0")
	if err != nil || ok {
		t.Fatalf("Exists on absent: ok=%v err=%v", ok, err)
	}
	if _, err := m.IsRunning(context.Background(), "npu0"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("IsRunning: want ErrAbsent, got %v", err)
	}
	if err := m.Start(context.Background(), "npu0"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("Start: want ErrAbsent, got %v", err)
	}
	if err := m.Restart(context.Background(), "npu0"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("Restart: want ErrAbsent, got %v", err)
	}
	if _, err := m.Exec(context.Background(), "npu0", time.Second, "true"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("Exec: want ErrAbsent, got %v", err)
	}
}

func TestInspectTimeoutIsNotAbsence(t *testing.T) {
	fr := &fakeRunner{fn: func(args []string) (runner.Result, error) {
		return runner.Result{TimedOut: true, ExitCode: -1}, nil
	}}
	m := New("docker", fr)
	ok, err := m.Exists(context.Background(), "npu0")
	if err == nil || ok {
		t.Fatalf("timed-out inspect must error, not report absence: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error should name the timeout: %v", err)
	}
	if _, err := m.IsRunning(context.Background(), "npu0"); err == nil || errors.Is(err, ErrAbsent) {
		t.Fatalf("IsRunning on timed-out inspect: %v", err)
	}
}

func TestInspectEngineFailureIsNotAbsence(t *testing.T) {
	fr := &fakeRunner{fn: func(args []string) (runner.Result, error) {
		return runner.Result{
			ExitCode: 1,
			Stderr:   "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?",
		}, nil
	}}
	m := New("docker", fr)
	ok, err := m.Exists(context.Background(), "npu0")
	if err == nil || ok {
		t.Fatalf("unreachable engine must error, not report absence: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(err.Error(), "Cannot connect") {
		t.Fatalf("error should carry the engine stderr: %v", err)
	}
}

func TestStartIdempotentWhenRunning(t *testing.T) {
	fr := &fakeRunner{fn: inspectRunning(true)}
	m := New("docker", fr)
	if err := m.Start(context.Background(), "npu0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, v := range fr.verbs() {
		if v == "start" {
			t.Fatalf("start issued for already-running container: %v", fr.calls)
		}
	}
}

func TestStopIdempotentWhenStopped(t *testing.T) {
	fr := &fakeRunner{fn: inspectRunning(false)}
	m := New("docker", fr)
	if err := m.Stop(context.Background(), "npu0"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, v := range fr.verbs() {
		if v == "stop" {
			t.Fatalf("stop issued for already-stopped container: %v", fr.calls)
		}
	}
}

func TestStartIssuesCommandWhenStopped(t *testing.T) {
	fr := &fakeRunner{fn: inspectRunning(false)}
	m := New("podman", fr)
	if err := m.Start(context.Background(), "npu0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	found := false
	for _, c := range fr.calls {
		if c[0] == "podman" && c[1] == "start" && c[2] == "npu0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected podman start npu0, calls: %v", fr.calls)
	}
}

func TestLifecycleFailureSurfacesStderr(t *testing.T) {
	fr := &fakeRunner{fn: func(args []string) (runner.Result, error) {
		if args[0] == "container" {
			return runner.Result{Stdout: "false\n"}, nil
		}
		return runner.Result{ExitCode: 125, Stderr: "driver failure"}, nil
	}}
	m := New("docker", fr)
	err := m.Start(context.Background(), "npu0")
	if err == nil || !strings.Contains(err.Error(), "driver failure") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecPassesThroughResult(t *testing.T) {
	fr := &fakeRunner{fn: func(args []string) (runner.Result, error) {
		if args[0] == "container" {
			return runner.Result{Stdout: "true\n"}, nil
		}
		return runner.Result{TimedOut: true, ExitCode: -1}, nil
	}}
	m := New("docker", fr)
	res, err := m.Exec(context.Background(), "npu0", 100*time.Millisecond, "accel-smi", "ping")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut passthrough, got %+v", res)
	}
	last := fr.calls[len(fr.calls)-1]
	want := []string{"docker", "exec", "npu0", "accel-smi", "ping"}
	if len(last) != len(want) {
		t.Fatalf("exec argv mismatch: %v", last)
	}
	for i := range want {
		if last[i] != want[i] {
			t.Fatalf("exec argv mismatch at %d: %v", i, last)
		}
	}
}
