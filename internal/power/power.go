// Package power carries out the host-level actions that may follow an
// inactivity shutdown: suspending the machine and exiting the panel itself.
package power

import (
	"log/slog"
	"os"
	"time"
)

// Sleeper suspends the host machine.
type Sleeper interface {
	Sleep() error
}

// Exiter terminates the panel process after teardown completes.
type Exiter interface {
	Exit(code int)
}

// HostSleeper suspends the machine via the platform suspend command. The
// small delay gives in-flight log writes and event deliveries a chance to
// flush before the OS freezes userland.
type HostSleeper struct {
	Delay time.Duration
}

func (h HostSleeper) Sleep() error {
	d := h.Delay
	if d <= 0 {
		d = 2 * time.Second
	}
	slog.Info("suspending host", "delay", d)
	time.Sleep(d)
	return suspendHost()
}

// AppExiter exits the current process.
type AppExiter struct{}

func (AppExiter) Exit(code int) {
	slog.Info("exiting panel process", "code", code)
	os.Exit(code)
}
