package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}

	cli := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(cli, globalFlags, startFlags),
		createRunCommand(cli, globalFlags),
		createStopCommand(cli, globalFlags),
		createStatusCommand(cli, globalFlags, statusFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "accelguard",
		Short: "Watchdog for containerized hardware accelerators",
		Long: `Accelguard supervises a containerized accelerator workload: it probes
device health on a fixed interval and applies escalating recovery
(container restart, then kernel module reload) when the device hangs.

Examples:
  accelguard start --config=accelguard.toml              # Run in foreground
  accelguard start --config=accelguard.toml --daemonize  # Run in background
  accelguard status --config=accelguard.toml
  accelguard status --api-url=http://127.0.0.1:8085      # Query a remote watchdog
  accelguard stop --config=accelguard.toml`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func createStartCommand(cli command, globalFlags *GlobalFlags, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [config.toml]",
		Short: "Start the watchdog",
		Long: `Start the watchdog for the configured container. Refuses to start when
another watchdog already owns the configured PID file.

Examples:
  accelguard start --config=accelguard.toml
  accelguard start accelguard.toml --daemonize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Start(configPath(globalFlags, args), *startFlags)
		},
	}
	cmd.Flags().BoolVar(&startFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&startFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func createRunCommand(cli command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Run the watchdog in the foreground",
		Long: `Run the watchdog in the foreground with log lines mirrored to stdout.
Equivalent to 'start' without --daemonize; useful under an init system
or inside a container.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Start(configPath(globalFlags, args), StartFlags{})
		},
	}
}

func createStopCommand(cli command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [config.toml]",
		Short: "Stop a running watchdog",
		Long: `Signal the watchdog recorded in the configured PID file to shut down.
Only the watchdog process is stopped; the supervised container is left
exactly as it is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stop(configPath(globalFlags, args))
		},
	}
}

func createStatusCommand(cli command, globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [config.toml]",
		Short: "Show watchdog and container status",
		Long: `Show whether the watchdog is alive, whether the supervised container is
running, and the trailing event log.

Examples:
  accelguard status --config=accelguard.toml
  accelguard status --config=accelguard.toml --lines=50
  accelguard status --api-url=http://127.0.0.1:8085  # Ask the daemon directly`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusFlags.APIUrl != "" {
				return cli.StatusViaAPI(*statusFlags)
			}
			return cli.Status(configPath(globalFlags, args), *statusFlags)
		},
	}
	cmd.Flags().IntVar(&statusFlags.Lines, "lines", 20, "trailing log lines to include")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "watchdog status API URL (e.g. http://host:8085)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func configPath(flags *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flags.ConfigPath
}
