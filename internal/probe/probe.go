package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/accelguard/internal/runner"
)

// Outcome classifies one health check of the accelerator workload.
type Outcome string

const (
	Healthy Outcome = "healthy"
	Hung    Outcome = "hung"
	Absent  Outcome = "absent"
)

// Result is produced once per poll cycle and consumed immediately; only
// the supervisor's consecutive-failure accounting outlives it.
type Result struct {
	At      time.Time `json:"at"`
	Outcome Outcome   `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Engine is the slice of container operations a probe needs.
type Engine interface {
	Exists(ctx context.Context, name string) (bool, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	Exec(ctx context.Context, name string, timeout time.Duration, argv ...string) (runner.Result, error)
}

// Prober runs one bounded diagnostic against the target.
type Prober interface {
	Check(ctx context.Context) Result
}

// Probe executes the configured diagnostic command inside the target
// container. The timeout must be strictly below the supervisor's poll
// interval so a wedged diagnostic can never stall the loop.
type Probe struct {
	engine  Engine
	name    string
	command []string
	timeout time.Duration
}

func New(engine Engine, containerName string, command []string, timeout time.Duration) *Probe {
	return &Probe{engine: engine, name: containerName, command: command, timeout: timeout}
}

func (p *Probe) Check(ctx context.Context) Result {
	now := time.Now()
	exists, err := p.engine.Exists(ctx, p.name)
	if err != nil {
		return Result{At: now, Outcome: Hung, Detail: fmt.Sprintf("existence check: %v", err)}
	}
	if !exists {
		return Result{At: now, Outcome: Absent}
	}
	running, err := p.engine.IsRunning(ctx, p.name)
	if err != nil {
		return Result{At: now, Outcome: Hung, Detail: fmt.Sprintf("running check: %v", err)}
	}
	if !running {
		return Result{At: now, Outcome: Hung, Detail: "container not running"}
	}
	res, err := p.engine.Exec(ctx, p.name, p.timeout, p.command...)
	if err != nil {
		return Result{At: now, Outcome: Hung, Detail: fmt.Sprintf("diagnostic: %v", err)}
	}
	switch {
	case res.TimedOut:
		return Result{At: now, Outcome: Hung, Detail: "diagnostic timed out"}
	case res.ExitCode != 0:
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("diagnostic exit code %d", res.ExitCode)
		}
		return Result{At: now, Outcome: Hung, Detail: detail}
	default:
		return Result{At: now, Outcome: Healthy}
	}
}
