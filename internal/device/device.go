package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/accelguard/internal/runner"
)

// ErrPrivileged marks a failed elevated command (module reload or sysfs
// rebind). The escalator records it and moves on; it is never fatal.
var ErrPrivileged = errors.New("privileged command failed")

// DefaultReloadPause sits between module unload and reload so the driver
// can settle before it is brought back.
const DefaultReloadPause = 3 * time.Second

// Ops performs the privileged accelerator resets. Every command goes
// through a privilege prefix (sudo -n by default); the sudoers bootstrap
// authorizes exactly these operations and nothing else.
type Ops struct {
	run     runner.Runner
	module  string
	busID   string
	driver  string
	prefix  []string
	pause   time.Duration
	timeout time.Duration
}

type Config struct {
	Module  string        // kernel module name, e.g. accel_drv
	BusID   string        // PCI bus ID, e.g. 0000:65:00.0
	Driver  string        // sysfs bus driver directory name
	Prefix  []string      // privilege escalation prefix, default ["sudo","-n"]
	Pause   time.Duration // pause between unload and reload
	Timeout time.Duration // per-command bound
}

func New(r runner.Runner, cfg Config) *Ops {
	prefix := cfg.Prefix
	if prefix == nil {
		prefix = []string{"sudo", "-n"}
	}
	pause := cfg.Pause
	if pause <= 0 {
		pause = DefaultReloadPause
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ops{
		run:     r,
		module:  cfg.Module,
		busID:   cfg.BusID,
		driver:  cfg.Driver,
		prefix:  prefix,
		pause:   pause,
		timeout: timeout,
	}
}

// ReloadModule unloads the kernel module, pauses, and loads it back.
// The pause is interruptible; a stop request during it aborts the reload
// with the context error after the in-flight command has finished.
func (o *Ops) ReloadModule(ctx context.Context) error {
	if o.module == "" {
		return fmt.Errorf("%w: no kernel module configured", ErrPrivileged)
	}
	if err := o.priv(ctx, "modprobe", "-r", o.module); err != nil {
		return err
	}
	select {
	case <-time.After(o.pause):
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.priv(ctx, "modprobe", o.module)
}

// Rebind detaches the device from its bus driver and attaches it again
// via the sysfs unbind/bind files.
func (o *Ops) Rebind(ctx context.Context) error {
	if o.busID == "" || o.driver == "" {
		return fmt.Errorf("%w: no bus id or driver configured", ErrPrivileged)
	}
	base := "/sys/bus/pci/drivers/" + o.driver
	if err := o.priv(ctx, "sh", "-c", fmt.Sprintf("echo %s > %s/unbind", o.busID, base)); err != nil {
		return err
	}
	return o.priv(ctx, "sh", "-c", fmt.Sprintf("echo %s > %s/bind", o.busID, base))
}

func (o *Ops) priv(ctx context.Context, argv ...string) error {
	full := append(append([]string{}, o.prefix...), argv...)
	res, err := o.run.Run(ctx, o.timeout, full[0], full[1:]...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPrivileged, strings.Join(argv, " "), err)
	}
	if !res.OK() {
		msg := strings.TrimSpace(res.Stderr)
		if res.TimedOut {
			msg = "timed out"
		} else if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return fmt.Errorf("%w: %s: %s", ErrPrivileged, strings.Join(argv, " "), msg)
	}
	return nil
}
