package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/accelguard"
	"github.com/loykin/accelguard/pkg/client"
)

type command struct{}

// Start runs the watchdog until shutdown. With --daemonize the process
// re-executes itself in a new session and the parent exits.
func (c command) Start(configPath string, f StartFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if f.Daemonize {
		logFile := f.LogFile
		if logFile == "" {
			logFile = cfg.Log.Path
		}
		return daemonize(logFile)
	}

	w, err := accelguard.New(cfg, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reason, err := w.Run(ctx)
	if err != nil {
		if errors.Is(err, accelguard.ErrDuplicateInstance) {
			return exitErrorf(exitNoop, "%v", err)
		}
		return err
	}
	if reason == accelguard.ReasonTargetAbsent {
		fmt.Printf("container %s no longer exists; watchdog exiting\n", cfg.Target.Container)
	}
	return nil
}

// Stop signals the recorded watchdog. Stopping a watchdog that is not
// running is reported but not treated as a hard failure.
func (c command) Stop(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	pid, err := accelguard.Stop(cfg.Watchdog.PIDFile)
	if err != nil {
		return exitErrorf(exitNoop, "watchdog is not running: %v", err)
	}
	fmt.Printf("sent SIGTERM to watchdog (pid %d)\n", pid)
	return nil
}

// Status inspects the PID file, the container engine, and the event log
// without contacting the daemon.
func (c command) Status(configPath string, f StatusFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rep, err := accelguard.Status(context.Background(), cfg, f.Lines)
	if err != nil {
		return err
	}
	printJSON(rep)
	if !rep.WatchdogAlive {
		return exitErrorf(exitNotRunning, "watchdog is not running")
	}
	return nil
}

// StatusViaAPI queries a running watchdog's status endpoint.
func (c command) StatusViaAPI(f StatusFlags) error {
	cl := client.New(f.APIUrl, f.APITimeout)
	st, err := cl.Status(context.Background(), f.Lines)
	if err != nil {
		return exitErrorf(exitNotRunning, "watchdog not reachable at %s: %v", f.APIUrl, err)
	}
	printJSON(st)
	return nil
}

func loadConfig(path string) (*accelguard.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file required: use --config=accelguard.toml or pass it as an argument")
	}
	cfg, err := accelguard.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
