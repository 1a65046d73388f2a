package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/accelguard/internal/runner"
)

// ErrAbsent is returned by every operation other than Exists when the
// target container is not known to the engine.
var ErrAbsent = errors.New("container does not exist")

// DefaultOpTimeout bounds lifecycle commands (start/stop/restart/inspect).
const DefaultOpTimeout = 60 * time.Second

// Manager drives a named container through the engine CLI (docker or
// podman compatible). All invocations go through a Runner so the
// decision logic stays testable against a fake.
type Manager struct {
	engine    string
	run       runner.Runner
	opTimeout time.Duration
}

func New(engine string, r runner.Runner) *Manager {
	if engine == "" {
		engine = "docker"
	}
	return &Manager{engine: engine, run: r, opTimeout: DefaultOpTimeout}
}

// SetOpTimeout overrides the lifecycle command bound. Values <= 0 are ignored.
func (m *Manager) SetOpTimeout(d time.Duration) {
	if d > 0 {
		m.opTimeout = d
	}
}

// inspect returns (exists, running). Absence is inferred only from the
// engine's definite "no such container" answer; a timed-out or otherwise
// failing inspect (engine daemon unreachable, wedged) is a retryable
// error, never absence.
func (m *Manager) inspect(ctx context.Context, name string) (bool, bool, error) {
	res, err := m.run.Run(ctx, m.opTimeout, m.engine, "container", "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, false, err
	}
	if res.OK() {
		return true, strings.TrimSpace(res.Stdout) == "true", nil
	}
	if !res.TimedOut && isNoSuch(res.Stderr) {
		return false, false, nil
	}
	return false, false, fmt.Errorf("%s container inspect %s: %s", m.engine, name, summarize(res))
}

// isNoSuch matches the docker/podman stderr for an unknown container.
func isNoSuch(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") || strings.Contains(s, "no such object")
}

func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	exists, _, err := m.inspect(ctx, name)
	return exists, err
}

func (m *Manager) IsRunning(ctx context.Context, name string) (bool, error) {
	exists, running, err := m.inspect(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrAbsent
	}
	return running, nil
}

// Start is idempotent: starting an already-running container is a no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	exists, running, err := m.inspect(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAbsent
	}
	if running {
		return nil
	}
	return m.lifecycle(ctx, "start", name)
}

// Stop is idempotent: stopping an already-stopped container is a no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	exists, running, err := m.inspect(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAbsent
	}
	if !running {
		return nil
	}
	return m.lifecycle(ctx, "stop", name)
}

func (m *Manager) Restart(ctx context.Context, name string) error {
	exists, _, err := m.inspect(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAbsent
	}
	return m.lifecycle(ctx, "restart", name)
}

func (m *Manager) lifecycle(ctx context.Context, verb, name string) error {
	res, err := m.run.Run(ctx, m.opTimeout, m.engine, verb, name)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s %s %s: %s", m.engine, verb, name, summarize(res))
	}
	return nil
}

// Exec runs a command inside the container's namespace with its own bound.
// The caller interprets the result (timeout vs nonzero exit vs success).
func (m *Manager) Exec(ctx context.Context, name string, timeout time.Duration, argv ...string) (runner.Result, error) {
	exists, _, err := m.inspect(ctx, name)
	if err != nil {
		return runner.Result{}, err
	}
	if !exists {
		return runner.Result{}, ErrAbsent
	}
	args := append([]string{"exec", name}, argv...)
	return m.run.Run(ctx, timeout, m.engine, args...)
}

func summarize(res runner.Result) string {
	if res.TimedOut {
		return "timed out"
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return msg
}
