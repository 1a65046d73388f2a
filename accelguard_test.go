package accelguard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/accelguard/internal/instance"
)

// fakeEngine writes an engine stand-in that answers every invocation
// with the definite "no such container" response.
func fakeEngine(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "engine")
	script := "#!/bin/sh\necho 'Error: No such container: npu0' >&2\nexit 1\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

// testConfig wires a minimal valid config whose engine always reports
// the container as unknown.
func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	c := &Config{}
	c.Target.Container = "npu0"
	c.Target.Engine = fakeEngine(t, dir)
	c.Watchdog.PIDFile = filepath.Join(dir, "accelguard.pid")
	c.Watchdog.PollInterval = time.Second
	c.Watchdog.ProbeTimeout = 100 * time.Millisecond
	c.Watchdog.ProbeCommand = []string{"true"}
	c.Log.Path = filepath.Join(dir, "accelguard.log")
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	c := testConfig(t)
	c.Target.Container = ""
	if _, err := New(c, nil); err == nil {
		t.Fatalf("expected validation error for missing container")
	}
}

func TestRunExitsWhenTargetAbsent(t *testing.T) {
	w, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reason, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != ReasonTargetAbsent {
		t.Fatalf("reason = %s, want %s", reason, ReasonTargetAbsent)
	}
}

func TestRunRefusesDuplicateInstance(t *testing.T) {
	c := testConfig(t)
	h, err := instance.Acquire(c.Watchdog.PIDFile)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = h.Release() }()

	w, err := New(c, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.Run(ctx); !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("err = %v, want ErrDuplicateInstance", err)
	}
}

func TestStopWithoutInstance(t *testing.T) {
	if _, err := Stop(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Fatalf("expected error for missing pid file")
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	c := testConfig(t)
	logLines := "[2026-01-01T00:00:00Z] INFO watchdog started target=npu0\n" +
		"[2026-01-01T00:00:30Z] WARN probe reported hang\n"
	if err := os.WriteFile(c.Log.Path, []byte(logLines), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	rep, err := Status(context.Background(), c, 10)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.WatchdogAlive || rep.ContainerExists || rep.ContainerRunning {
		t.Fatalf("expected everything down: %+v", rep)
	}
	if len(rep.Log) != 2 {
		t.Fatalf("log tail mismatch: %v", rep.Log)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accelguard.toml")
	data := `
[target]
container = "npu0"
device = "/dev/accel0"

[watchdog]
poll_interval = "5s"
probe_timeout = "2s"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Target.Engine != "docker" {
		t.Fatalf("engine default: %q", c.Target.Engine)
	}
	if len(c.Watchdog.ProbeCommand) == 0 {
		t.Fatalf("probe command not defaulted from device")
	}
}
