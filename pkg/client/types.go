package client

import (
	"fmt"
	"time"
)

// Status mirrors the panel's /api/status response.
type Status struct {
	Profile string       `json:"profile,omitempty"`
	Roles   []RoleStatus `json:"roles"`
	Monitor *Monitor     `json:"monitor,omitempty"`
}

// RoleStatus is the state of one managed role.
type RoleStatus struct {
	Role      string     `json:"role"`
	State     string     `json:"state"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	UptimeSec int64      `json:"uptime_seconds,omitempty"`
}

// Monitor is the inactivity monitor snapshot.
type Monitor struct {
	Running     bool          `json:"running"`
	Suspended   bool          `json:"suspended"`
	IdleFor     time.Duration `json:"idle_for"`
	Limit       time.Duration `json:"limit"`
	ProbeFaults int           `json:"probe_faults"`
	LastSample  Sample        `json:"last_sample"`
}

// Sample is one activity observation.
type Sample struct {
	At          time.Time `json:"at"`
	Reachable   bool      `json:"reachable"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Players     []string  `json:"players,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// Profile mirrors the panel's profile document.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	ServerPath string `json:"server_path"`
	RunScript  string `json:"run_script"`

	Host         string `json:"host,omitempty"`
	RCONPort     int    `json:"rcon_port,omitempty"`
	RCONPassword string `json:"rcon_password,omitempty"`
	QueryPort    int    `json:"query_port,omitempty"`

	TunnelCommand string `json:"tunnel_command,omitempty"`
	ProxyCommand  string `json:"proxy_command,omitempty"`

	InactivityLimit        time.Duration `json:"inactivity_limit,omitempty"`
	PollingInterval        time.Duration `json:"polling_interval,omitempty"`
	SleepAfterInactivity   bool          `json:"pc_sleep_after_inactivity,omitempty"`
	ExitAppAfterInactivity bool          `json:"shutdown_app_after_inactivity,omitempty"`
}

// APIError is a structured error response from the panel.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("panel error (%d %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("panel error (%d): %s", e.Status, e.Message)
}
