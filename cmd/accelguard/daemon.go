package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonize re-executes the current command in a new session with
// --daemonize stripped, then exits the parent. The child acquires the
// PID file itself, so a duplicate instance still fails in the child.
func daemonize(logFile string) error {
	if os.Getppid() == 1 {
		// Already detached.
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	var newArgs []string
	skipNext := false
	for _, arg := range os.Args[1:] {
		if skipNext {
			skipNext = false
			continue
		}
		if arg == "--daemonize" {
			continue
		}
		if arg == "--logfile" {
			skipNext = true
			continue
		}
		newArgs = append(newArgs, arg)
	}

	// #nosec 204
	cmd := exec.Command(executable, newArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Watchdog started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}
