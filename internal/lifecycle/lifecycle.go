// Package lifecycle is the control core of the panel: it owns one process
// handle per managed role for the active profile, runs the per-role state
// machine, and serializes control requests.
package lifecycle

import (
	"fmt"
	"time"
)

// Role identifies one managed child process kind.
type Role string

const (
	RoleServer Role = "server"
	RoleTunnel Role = "tunnel"
	RoleProxy  Role = "proxy"
)

// Roles lists all managed roles in teardown order.
var Roles = []Role{RoleServer, RoleTunnel, RoleProxy}

// State is the lifecycle state of one role.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	// StateInactive marks a server stopped by the inactivity monitor rather
	// than an operator. Start is permitted from it like from Stopped.
	StateInactive State = "inactive"
	// StateFailed marks an unexpected exit or an unverifiable kill. It must
	// be acknowledged before the role can be started again.
	StateFailed State = "failed"
)

// ControlErrorKind classifies control operation failures.
type ControlErrorKind int

const (
	// ErrNotRunning: the operation needs a live process and there is none.
	ErrNotRunning ControlErrorKind = iota
	// ErrBusy: another control operation on the same role is in flight.
	// Callers must poll state and retry; requests are never queued.
	ErrBusy
	// ErrAlreadyActive: the requested profile is already the active one.
	ErrAlreadyActive
	// ErrTimeout: a graceful stop did not complete within its window and
	// policy forbade escalation. The process is still running.
	ErrTimeout
	// ErrFatal: the role could not be brought to a verifiable state and is
	// left Failed. Operator intervention required.
	ErrFatal
)

func (k ControlErrorKind) String() string {
	switch k {
	case ErrNotRunning:
		return "not_running"
	case ErrBusy:
		return "busy"
	case ErrAlreadyActive:
		return "already_active"
	case ErrTimeout:
		return "timeout"
	case ErrFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ControlError is the structured failure returned by controller operations.
type ControlError struct {
	Kind ControlErrorKind
	Role Role
	Msg  string
}

func (e *ControlError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s: %s: %s", e.Role, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func ctlErr(kind ControlErrorKind, role Role, format string, args ...any) *ControlError {
	return &ControlError{Kind: kind, Role: role, Msg: fmt.Sprintf(format, args...)}
}

// RoleStatus is the externally visible snapshot of one role.
type RoleStatus struct {
	Role      Role       `json:"role"`
	State     State      `json:"state"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	UptimeSec int64      `json:"uptime_seconds,omitempty"`
}
