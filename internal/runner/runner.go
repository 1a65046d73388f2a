package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// Result is the typed outcome of one external command invocation.
// TimedOut is distinct from a nonzero exit: a command that ran past its
// bound was killed and never produced a meaningful exit code.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// OK reports whether the command completed within its bound with exit code 0.
func (r Result) OK() bool { return !r.TimedOut && r.ExitCode == 0 }

// Runner executes an external command with a bounded timeout.
// Implementations must not retry; retry policy belongs to callers.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// Exec runs commands via os/exec. Each command gets its own process group
// so that a timeout kills the command and any children it spawned; a slow
// diagnostic must not leave orphans behind over long daemon uptime.
type Exec struct{}

func (Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-cctx.Done():
		// Kill the entire group (negative pid) and reap before returning.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitCh
		res := Result{ExitCode: -1, Stdout: outBuf.String(), Stderr: errBuf.String()}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			return res, nil
		}
		return res, cctx.Err()
	case err := <-waitCh:
		res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
		if err == nil {
			return res, nil
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
}
