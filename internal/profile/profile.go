// Package profile defines the named configuration bundle describing one
// manageable server installation, plus its SQLite-backed store.
package profile

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults applied when a profile omits optional settings.
const (
	DefaultRunScript       = "run.sh"
	DefaultHost            = "localhost"
	DefaultRCONPort        = 25575
	DefaultQueryPort       = 25565
	DefaultInactivityLimit = 30 * time.Minute
	DefaultPollingInterval = 60 * time.Second
)

// Profile is an immutable snapshot of one server installation's settings.
// The lifecycle controller copies it at activation time; nothing below the
// controller mutates it.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	ServerPath string `json:"server_path"` // absolute directory of the installation
	RunScript  string `json:"run_script"`  // launch script relative to ServerPath

	Host         string `json:"host"`
	RCONPort     int    `json:"rcon_port"`
	RCONPassword string `json:"rcon_password"`
	QueryPort    int    `json:"query_port"`

	TunnelCommand string `json:"tunnel_command,omitempty"` // optional tunnel client launch command
	ProxyCommand  string `json:"proxy_command,omitempty"`  // optional reverse proxy launch command

	InactivityLimit        time.Duration `json:"inactivity_limit"`
	PollingInterval        time.Duration `json:"polling_interval"`
	SleepAfterInactivity   bool          `json:"pc_sleep_after_inactivity"`
	ExitAppAfterInactivity bool          `json:"shutdown_app_after_inactivity"`
}

// Normalize fills defaults and generates a control password when absent.
func (p *Profile) Normalize() {
	if p.RunScript == "" {
		p.RunScript = DefaultRunScript
	}
	if p.Host == "" {
		p.Host = DefaultHost
	}
	if p.RCONPort == 0 {
		p.RCONPort = DefaultRCONPort
	}
	if p.QueryPort == 0 {
		p.QueryPort = DefaultQueryPort
	}
	if p.InactivityLimit <= 0 {
		p.InactivityLimit = DefaultInactivityLimit
	}
	if p.PollingInterval <= 0 {
		p.PollingInterval = DefaultPollingInterval
	}
	if p.RCONPassword == "" {
		p.RCONPassword = generatePassword()
	}
}

// Validate checks the invariants required before the profile may be saved
// or activated.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.ServerPath == "" {
		return errors.New("server path is required")
	}
	if !filepath.IsAbs(p.ServerPath) {
		return fmt.Errorf("server path must be absolute: %s", p.ServerPath)
	}
	if fi, err := os.Stat(p.ServerPath); err != nil {
		return fmt.Errorf("server path: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("server path is not a directory: %s", p.ServerPath)
	}
	if p.RunScript == "" {
		return errors.New("run script is required")
	}
	if p.InactivityLimit <= 0 {
		return errors.New("inactivity limit must be positive")
	}
	if p.PollingInterval <= 0 {
		return errors.New("polling interval must be positive")
	}
	if p.RCONPort <= 0 || p.RCONPort > 65535 {
		return fmt.Errorf("invalid rcon port %d", p.RCONPort)
	}
	if p.QueryPort <= 0 || p.QueryPort > 65535 {
		return fmt.Errorf("invalid query port %d", p.QueryPort)
	}
	return nil
}

// Env returns the KEY=VALUE entries exported into the server child process
// so the run script and server config can pick up the control ports.
func (p *Profile) Env() []string {
	return []string{
		"RCON_PASSWORD=" + p.RCONPassword,
		"RCON_PORT=" + strconv.Itoa(p.RCONPort),
		"QUERY_PORT=" + strconv.Itoa(p.QueryPort),
	}
}

// RunScriptPath returns the absolute path of the launch script.
func (p *Profile) RunScriptPath() string {
	return filepath.Join(p.ServerPath, p.RunScript)
}

func generatePassword() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "cubeward"
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
