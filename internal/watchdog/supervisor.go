package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/accelguard/internal/container"
	"github.com/loykin/accelguard/internal/history"
	"github.com/loykin/accelguard/internal/metrics"
	"github.com/loykin/accelguard/internal/probe"
	"github.com/loykin/accelguard/internal/recovery"
)

// ExitReason tells the caller why the polling loop ended.
type ExitReason string

const (
	// ReasonStopped: a stop request was observed between suspension points.
	ReasonStopped ExitReason = "stop_requested"
	// ReasonTargetAbsent: the container was removed out-of-band. Nothing
	// left to supervise; terminal but clean.
	ReasonTargetAbsent ExitReason = "target_absent"
)

var allStates = []string{
	string(recovery.Idle),
	string(recovery.TierSoftRestart),
	string(recovery.TierModuleReload),
	string(recovery.Cooldown),
}

// Containers is the lifecycle slice the supervisor itself drives; the
// escalator holds its own restart surface.
type Containers interface {
	Exists(ctx context.Context, name string) (bool, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	Start(ctx context.Context, name string) error
}

// Snapshot is the read-only view served by the status API.
type Snapshot struct {
	Target           string         `json:"target"`
	ContainerRunning bool           `json:"container_running"`
	State            recovery.State `json:"state"`
	LastProbe        *probe.Result  `json:"last_probe,omitempty"`
	ConsecutiveHangs int            `json:"consecutive_hangs"`
	Cycles           uint64         `json:"cycles"`
	StartedAt        time.Time      `json:"started_at"`
}

// Supervisor binds probe, escalator, container lifecycle, history and
// metrics into one single-threaded polling loop. All subprocess work is
// bounded, so the loop never blocks forever; cancellation is sampled
// only between suspension points.
type Supervisor struct {
	target     string
	containers Containers
	prober     probe.Prober
	escalator  *recovery.Escalator
	sink       history.Sink
	log        *slog.Logger
	interval   time.Duration

	mu   sync.Mutex
	snap Snapshot
}

func New(target string, containers Containers, prober probe.Prober, esc *recovery.Escalator, sink history.Sink, log *slog.Logger, interval time.Duration) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{
		target:     target,
		containers: containers,
		prober:     prober,
		escalator:  esc,
		sink:       sink,
		log:        log,
		interval:   interval,
		snap:       Snapshot{Target: target, State: recovery.Idle},
	}
}

// SetEscalator wires the escalator after construction; the escalator's
// record callback points back at this supervisor.
func (s *Supervisor) SetEscalator(e *recovery.Escalator) { s.escalator = e }

// RecordAttempt is the escalator callback: one log line, one metric
// increment, one history event per attempt.
func (s *Supervisor) RecordAttempt(a recovery.Attempt) {
	s.log.Warn("recovery attempt",
		"tier", string(a.Tier), "outcome", string(a.Outcome), "detail", a.Detail)
	metrics.IncRecoveryAttempt(s.target, string(a.Tier), string(a.Outcome))
	s.send(history.FromAttempt(s.target, a))
}

func (s *Supervisor) send(e history.Event) {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Send(ctx, e); err != nil {
		s.log.Warn("history sink write failed", "error", err.Error())
	}
}

// Snapshot returns the current loop state for the status API.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	if s.escalator != nil {
		snap.State = s.escalator.State()
	}
	return snap
}

func (s *Supervisor) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

// Run drives the polling loop until a stop request or until the target
// disappears. One cycle: existence check, restart-if-stopped, health
// check, escalation-on-hang, sleep.
func (s *Supervisor) Run(ctx context.Context) ExitReason {
	s.update(func(sn *Snapshot) { sn.StartedAt = time.Now() })
	s.log.Info("watchdog started", "target", s.target, "poll_interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stop requested; exiting")
			return ReasonStopped
		default:
		}

		reason, done := s.cycle(ctx)
		if done {
			return reason
		}
		s.update(func(sn *Snapshot) { sn.Cycles++ })

		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			s.log.Info("stop requested; exiting")
			return ReasonStopped
		}
	}
}

func (s *Supervisor) cycle(ctx context.Context) (ExitReason, bool) {
	exists, err := s.containers.Exists(ctx, s.target)
	if err != nil {
		if ctx.Err() != nil {
			return ReasonStopped, true
		}
		s.log.Warn("existence check failed", "error", err.Error())
		return "", false
	}
	if !exists {
		s.log.Info("target container removed; nothing left to supervise", "target", s.target)
		return ReasonTargetAbsent, true
	}

	running, err := s.containers.IsRunning(ctx, s.target)
	if err != nil {
		if errors.Is(err, container.ErrAbsent) {
			s.log.Info("target container removed; nothing left to supervise", "target", s.target)
			return ReasonTargetAbsent, true
		}
		if ctx.Err() != nil {
			return ReasonStopped, true
		}
		s.log.Warn("running check failed", "error", err.Error())
		return "", false
	}

	if !running {
		// Stopped is transient: restart and move on. Not a hang, no
		// escalation.
		s.update(func(sn *Snapshot) { sn.ContainerRunning = false })
		s.log.Warn("container stopped; restarting", "target", s.target)
		if err := s.containers.Start(ctx, s.target); err != nil {
			if errors.Is(err, container.ErrAbsent) {
				return ReasonTargetAbsent, true
			}
			s.log.Warn("container restart failed", "error", err.Error())
		} else {
			metrics.IncContainerRestart(s.target)
		}
		return "", false
	}
	s.update(func(sn *Snapshot) { sn.ContainerRunning = true })

	t0 := time.Now()
	res := s.prober.Check(ctx)
	if ctx.Err() != nil {
		// A stop request cancelled the in-flight diagnostic; its result
		// is not a hang. Record nothing and exit.
		return ReasonStopped, true
	}
	metrics.ObserveProbeDuration(s.target, time.Since(t0).Seconds())
	metrics.IncProbe(s.target, string(res.Outcome))

	switch res.Outcome {
	case probe.Absent:
		s.log.Info("target container removed; nothing left to supervise", "target", s.target)
		return ReasonTargetAbsent, true
	case probe.Hung:
		s.log.Warn("probe reported hang", "detail", res.Detail)
		s.send(history.FromProbe(s.target, res))
		s.update(func(sn *Snapshot) {
			sn.LastProbe = &res
			sn.ConsecutiveHangs++
		})
	default:
		s.update(func(sn *Snapshot) {
			sn.LastProbe = &res
			sn.ConsecutiveHangs = 0
		})
	}

	if s.escalator != nil {
		s.escalator.Observe(ctx, res)
		metrics.SetEscalationState(s.target, string(s.escalator.State()), allStates)
	}
	return "", false
}
