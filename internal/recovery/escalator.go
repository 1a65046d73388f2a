package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/accelguard/internal/probe"
)

// State of the escalation machine. The supervisor loop is the only
// driver, so transitions are strictly serialized with health checks.
type State string

const (
	// Idle: no hang episode in progress.
	Idle State = "idle"
	// TierSoftRestart: a container restart is being applied.
	TierSoftRestart State = "tier_soft_restart"
	// TierModuleReload: the soft restart did not resolve the episode;
	// the next Hung observation triggers a kernel-module reload.
	TierModuleReload State = "tier_module_reload"
	// Cooldown: a module reload ran; no escalation until the quiet
	// interval elapses, to avoid recovery storms.
	Cooldown State = "cooldown"
)

// Tier identifies the severity of a recovery action.
type Tier string

const (
	SoftRestart  Tier = "soft_restart"
	ModuleReload Tier = "module_reload"
)

// Outcome of one recovery attempt.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
)

// Attempt is appended to the event log once per transition; it is never
// mutated after creation.
type Attempt struct {
	At      time.Time `json:"at"`
	Tier    Tier      `json:"tier"`
	Outcome Outcome   `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Restarter is the container surface the escalator mutates.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// DeviceResetter is the privileged surface for the module-reload tier.
type DeviceResetter interface {
	ReloadModule(ctx context.Context) error
	Rebind(ctx context.Context) error
}

// Escalator owns the tiered recovery state machine. Exactly one attempt
// is performed per Observe call, and the tier within one hang episode is
// monotonically non-decreasing.
type Escalator struct {
	// mu guards state and cooldownUntil: the supervisor loop is the
	// sole driver, but the status API reads the state concurrently.
	mu            sync.Mutex
	state         State
	cooldownUntil time.Time

	containers Restarter
	devices    DeviceResetter
	prober     probe.Prober
	target     string

	grace    time.Duration
	cooldown time.Duration
	rebind   bool

	record func(Attempt)
}

type Config struct {
	Target   string        // container name
	Grace    time.Duration // settle time after a soft restart before the re-probe
	Cooldown time.Duration // quiet interval after a module reload
	Rebind   bool          // include the sysfs device rebind in the module-reload tier
}

func New(containers Restarter, devices DeviceResetter, prober probe.Prober, cfg Config, record func(Attempt)) *Escalator {
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Minute
	}
	if record == nil {
		record = func(Attempt) {}
	}
	return &Escalator{
		state:      Idle,
		containers: containers,
		devices:    devices,
		prober:     prober,
		target:     cfg.Target,
		grace:      cfg.Grace,
		cooldown:   cfg.Cooldown,
		rebind:     cfg.Rebind,
		record:     record,
	}
}

// State returns the current machine state, expiring the cooldown lazily.
func (e *Escalator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireCooldownLocked()
	return e.state
}

func (e *Escalator) expireCooldownLocked() {
	if e.state == Cooldown && !time.Now().Before(e.cooldownUntil) {
		e.state = Idle
	}
}

func (e *Escalator) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Observe feeds one probe result into the machine and performs at most
// one recovery attempt. It returns the attempt, or nil when no action
// was taken this cycle.
func (e *Escalator) Observe(ctx context.Context, res probe.Result) *Attempt {
	e.mu.Lock()
	e.expireCooldownLocked()
	state := e.state
	e.mu.Unlock()

	if state == Cooldown {
		// Probes during cooldown are taken but never escalate,
		// regardless of their outcome.
		return nil
	}
	switch res.Outcome {
	case probe.Healthy:
		e.setState(Idle)
		return nil
	case probe.Hung:
	default:
		// Absent is terminal for the supervisor, not an escalation input.
		return nil
	}
	switch state {
	case Idle:
		return e.softRestart(ctx)
	case TierModuleReload:
		return e.moduleReload(ctx)
	default:
		return nil
	}
}

// softRestart restarts the container, waits a short grace period, then
// re-probes. A still-hung re-probe arms the module-reload tier for the
// next cycle.
func (e *Escalator) softRestart(ctx context.Context) *Attempt {
	e.setState(TierSoftRestart)
	at := time.Now()

	var detail string
	if err := e.containers.Restart(ctx, e.target); err != nil {
		detail = err.Error()
	} else {
		select {
		case <-time.After(e.grace):
		case <-ctx.Done():
		}
		if ctx.Err() == nil {
			re := e.prober.Check(ctx)
			if re.Outcome == probe.Healthy {
				a := Attempt{At: at, Tier: SoftRestart, Outcome: Succeeded}
				e.record(a)
				e.setState(Idle)
				return &a
			}
			detail = re.Detail
		}
	}
	a := Attempt{At: at, Tier: SoftRestart, Outcome: Failed, Detail: detail}
	e.record(a)
	e.setState(TierModuleReload)
	return &a
}

// moduleReload runs the privileged reset sequence. It always advances to
// Cooldown, success or not; a privileged failure is recorded, never fatal.
func (e *Escalator) moduleReload(ctx context.Context) *Attempt {
	at := time.Now()
	outcome := Succeeded
	var detail string

	err := e.devices.ReloadModule(ctx)
	if err == nil && e.rebind {
		err = e.devices.Rebind(ctx)
	}
	if err == nil {
		err = e.containers.Restart(ctx, e.target)
	}
	if err != nil {
		outcome = Failed
		detail = err.Error()
	}

	a := Attempt{At: at, Tier: ModuleReload, Outcome: outcome, Detail: detail}
	e.record(a)
	e.mu.Lock()
	e.state = Cooldown
	e.cooldownUntil = time.Now().Add(e.cooldown)
	e.mu.Unlock()
	return &a
}
