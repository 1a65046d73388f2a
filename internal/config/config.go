package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/accelguard/internal/logger"
)

// TargetConfig identifies the accelerator workload under supervision.
// Immutable after daemon start.
type TargetConfig struct {
	Container    string `toml:"container" mapstructure:"container"`
	Engine       string `toml:"engine" mapstructure:"engine"`
	Device       string `toml:"device" mapstructure:"device"`
	KernelModule string `toml:"kernel_module" mapstructure:"kernel_module"`
	BusID        string `toml:"bus_id" mapstructure:"bus_id"`
	Driver       string `toml:"driver" mapstructure:"driver"`
	RebindDevice bool   `toml:"rebind_device" mapstructure:"rebind_device"`
}

// WatchdogConfig holds the loop cadence and bounds.
type WatchdogConfig struct {
	PIDFile            string        `toml:"pid_file" mapstructure:"pid_file"`
	PollInterval       time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ProbeTimeout       time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	ProbeCommand       []string      `toml:"probe_command" mapstructure:"probe_command"`
	GracePeriod        time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	Cooldown           time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	ReloadPause        time.Duration `toml:"reload_pause" mapstructure:"reload_pause"`
	ContainerOpTimeout time.Duration `toml:"container_op_timeout" mapstructure:"container_op_timeout"`
}

// HistoryConfig selects the audit event sink.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig enables the read-only status HTTP API when Listen is set.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Config is the top-level TOML structure.
type Config struct {
	Target   TargetConfig   `toml:"target" mapstructure:"target"`
	Watchdog WatchdogConfig `toml:"watchdog" mapstructure:"watchdog"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
}

// Load parses the TOML config, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Target.Engine == "" {
		c.Target.Engine = "docker"
	}
	if c.Watchdog.PollInterval <= 0 {
		c.Watchdog.PollInterval = 30 * time.Second
	}
	if c.Watchdog.ProbeTimeout <= 0 {
		c.Watchdog.ProbeTimeout = 10 * time.Second
	}
	if c.Watchdog.GracePeriod <= 0 {
		c.Watchdog.GracePeriod = 5 * time.Second
	}
	if c.Watchdog.Cooldown <= 0 {
		c.Watchdog.Cooldown = 2 * time.Minute
	}
	if c.Watchdog.PIDFile == "" {
		c.Watchdog.PIDFile = "/run/accelguard/accelguard.pid"
	}
	if len(c.Watchdog.ProbeCommand) == 0 && c.Target.Device != "" {
		// Minimal liveness: the device node must be visible inside the
		// container's namespace.
		c.Watchdog.ProbeCommand = []string{"test", "-e", c.Target.Device}
	}
}

// Validate enforces the loop invariants before the daemon starts.
func (c *Config) Validate() error {
	if c.Target.Container == "" {
		return fmt.Errorf("target.container is required")
	}
	if len(c.Watchdog.ProbeCommand) == 0 {
		return fmt.Errorf("watchdog.probe_command is required (or set target.device)")
	}
	// The diagnostic bound must be strictly below the poll interval so
	// one wedged check can never stall the loop past a cycle.
	if c.Watchdog.ProbeTimeout >= c.Watchdog.PollInterval {
		return fmt.Errorf("watchdog.probe_timeout (%s) must be strictly less than poll_interval (%s)",
			c.Watchdog.ProbeTimeout, c.Watchdog.PollInterval)
	}
	if c.Target.RebindDevice && (c.Target.BusID == "" || c.Target.Driver == "") {
		return fmt.Errorf("target.rebind_device requires target.bus_id and target.driver")
	}
	return nil
}
