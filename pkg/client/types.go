package client

import "time"

// Status mirrors the watchdog status API response; kept free of
// internal types so external consumers only depend on this package.
type Status struct {
	Target           string       `json:"target"`
	ContainerRunning bool         `json:"container_running"`
	State            string       `json:"state"`
	LastProbe        *ProbeResult `json:"last_probe,omitempty"`
	ConsecutiveHangs int          `json:"consecutive_hangs"`
	Cycles           uint64       `json:"cycles"`
	StartedAt        time.Time    `json:"started_at"`
	Log              []string     `json:"log,omitempty"`
}

// ProbeResult is one health check as reported by the status API.
type ProbeResult struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}
