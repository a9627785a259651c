// Package rcon provides the console control channel used for protocol-level
// graceful stops and command passthrough.
package rcon

import (
	"fmt"
	"time"

	"github.com/gorcon/rcon"
)

// DefaultTimeout bounds dialing and a single command round trip.
const DefaultTimeout = 5 * time.Second

// Runner executes a single console command against the managed server.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(command string) (string, error)
}

// Console is the default Runner over the RCON protocol. Each Run dials a
// fresh connection; the server side treats RCON sessions as cheap and the
// panel issues commands rarely.
type Console struct {
	addr     string
	password string
	timeout  time.Duration
}

// New creates a Console for host:port with the given password.
func New(host string, port int, password string, timeout time.Duration) *Console {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Console{
		addr:     fmt.Sprintf("%s:%d", host, port),
		password: password,
		timeout:  timeout,
	}
}

// Run dials the server, executes command, and returns its response.
func (c *Console) Run(command string) (string, error) {
	conn, err := rcon.Dial(c.addr, c.password,
		rcon.SetDialTimeout(c.timeout),
		rcon.SetDeadline(c.timeout),
	)
	if err != nil {
		return "", fmt.Errorf("rcon dial %s: %w", c.addr, err)
	}
	defer func() { _ = conn.Close() }()

	out, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("rcon execute %q: %w", command, err)
	}
	return out, nil
}
