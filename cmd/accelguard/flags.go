package main

import "time"

// Exit codes used by the control CLI.
const (
	exitOK = 0
	// exitFailure is the generic error exit, applied by main for any
	// error that carries no explicit code.
	exitFailure = 1
	// exitNoop means the request was already satisfied: duplicate start,
	// or stop of a watchdog that is not running.
	exitNoop = 2
	// exitNotRunning is returned by status when no watchdog is alive.
	exitNotRunning = 3
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Daemonize bool
	LogFile   string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	Lines      int
	APIUrl     string
	APITimeout time.Duration
}
