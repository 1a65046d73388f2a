// Package accelguard embeds the accelerator watchdog: a polling
// supervisor that keeps a containerized hardware accelerator alive via
// escalating recovery actions (container restart, kernel-module reload,
// optional device rebind).
package accelguard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/accelguard/internal/config"
	"github.com/loykin/accelguard/internal/container"
	"github.com/loykin/accelguard/internal/device"
	"github.com/loykin/accelguard/internal/history"
	"github.com/loykin/accelguard/internal/history/factory"
	"github.com/loykin/accelguard/internal/instance"
	"github.com/loykin/accelguard/internal/logger"
	"github.com/loykin/accelguard/internal/metrics"
	"github.com/loykin/accelguard/internal/probe"
	"github.com/loykin/accelguard/internal/recovery"
	"github.com/loykin/accelguard/internal/runner"
	"github.com/loykin/accelguard/internal/server"
	"github.com/loykin/accelguard/internal/watchdog"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Snapshot = watchdog.Snapshot

type ExitReason = watchdog.ExitReason

const (
	ReasonStopped      = watchdog.ReasonStopped
	ReasonTargetAbsent = watchdog.ReasonTargetAbsent
)

// ErrDuplicateInstance re-exports the single-instance refusal.
var ErrDuplicateInstance = instance.ErrDuplicateInstance

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Watchdog is a fully wired daemon instance: supervisor, escalator,
// probe, history sink, event log, and optional status HTTP server.
type Watchdog struct {
	cfg    *Config
	sup    *watchdog.Supervisor
	sink   history.Sink
	logCls io.Closer
}

// New wires a Watchdog from config. When mirror is non-nil (foreground
// mode) log lines are also written there.
func New(c *Config, mirror io.Writer) (*Watchdog, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, logCls, err := logger.New(c.Log, mirror)
	if err != nil {
		return nil, err
	}

	var sink history.Sink
	if c.History.DSN != "" {
		sink, err = factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = logCls.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
	}

	var exec runner.Exec
	containers := container.New(c.Target.Engine, exec)
	containers.SetOpTimeout(c.Watchdog.ContainerOpTimeout)

	prober := probe.New(containers, c.Target.Container, c.Watchdog.ProbeCommand, c.Watchdog.ProbeTimeout)
	sup := watchdog.New(c.Target.Container, containers, prober, nil, sink, log, c.Watchdog.PollInterval)

	devices := device.New(exec, device.Config{
		Module: c.Target.KernelModule,
		BusID:  c.Target.BusID,
		Driver: c.Target.Driver,
		Pause:  c.Watchdog.ReloadPause,
	})
	esc := recovery.New(containers, devices, prober, recovery.Config{
		Target:   c.Target.Container,
		Grace:    c.Watchdog.GracePeriod,
		Cooldown: c.Watchdog.Cooldown,
		Rebind:   c.Target.RebindDevice,
	}, sup.RecordAttempt)
	sup.SetEscalator(esc)

	return &Watchdog{cfg: c, sup: sup, sink: sink, logCls: logCls}, nil
}

// Snapshot returns the supervisor's current status view.
func (w *Watchdog) Snapshot() Snapshot { return w.sup.Snapshot() }

// Run acquires the workspace PID file, serves the status API when
// configured, and drives the polling loop until ctx is cancelled or the
// target disappears. The PID record is removed on every exit path.
func (w *Watchdog) Run(ctx context.Context) (ExitReason, error) {
	h, err := instance.Acquire(w.cfg.Watchdog.PIDFile)
	if err != nil {
		w.close()
		return "", err
	}
	defer func() { _ = h.Release() }()
	defer w.close()

	_ = metrics.Register(prometheus.DefaultRegisterer)

	var srv *http.Server
	if w.cfg.Server.Listen != "" {
		srv = server.NewServer(w.cfg.Server.Listen, w.cfg.Server.BasePath, w.sup, w.cfg.Log.Path)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	return w.sup.Run(ctx), nil
}

func (w *Watchdog) close() {
	if w.sink != nil {
		_ = history.CloseSink(w.sink)
	}
	if w.logCls != nil {
		_ = w.logCls.Close()
	}
}

// Stop signals the recorded watchdog instance to terminate. It returns
// the signalled PID, or an error when no live instance is recorded.
func Stop(pidFile string) (int, error) {
	st, err := instance.Read(pidFile)
	if err != nil {
		return 0, err
	}
	if err := instance.Terminate(st); err != nil {
		return st.PID, err
	}
	return st.PID, nil
}

// StatusReport is the out-of-process status query: it inspects the PID
// record, the container engine, and the event log without touching the
// running daemon.
type StatusReport struct {
	ContainerExists  bool     `json:"container_exists"`
	ContainerRunning bool     `json:"container_running"`
	WatchdogAlive    bool     `json:"watchdog_alive"`
	WatchdogPID      int      `json:"watchdog_pid,omitempty"`
	Log              []string `json:"log,omitempty"`
}

// Status performs the read-only control query. It never mutates state.
func Status(ctx context.Context, c *Config, tailLines int) (StatusReport, error) {
	var rep StatusReport

	if st, err := instance.Read(c.Watchdog.PIDFile); err == nil {
		rep.WatchdogPID = st.PID
		rep.WatchdogAlive = instance.Alive(st)
	}

	var exec runner.Exec
	containers := container.New(c.Target.Engine, exec)
	containers.SetOpTimeout(c.Watchdog.ContainerOpTimeout)
	exists, err := containers.Exists(ctx, c.Target.Container)
	if err != nil {
		return rep, err
	}
	rep.ContainerExists = exists
	if exists {
		running, err := containers.IsRunning(ctx, c.Target.Container)
		if err != nil {
			return rep, err
		}
		rep.ContainerRunning = running
	}

	if c.Log.Path != "" {
		lines, err := logger.Tail(c.Log.Path, tailLines)
		if err != nil {
			return rep, err
		}
		rep.Log = lines
	}
	return rep, nil
}
