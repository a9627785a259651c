// Package history exports lifecycle events to external analytics systems.
// Sinks are append-only and independent from the panel's own state.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart              EventType = "start"
	EventStop               EventType = "stop"
	EventFailed             EventType = "failed"
	EventInactivityShutdown EventType = "inactivity_shutdown"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Profile    string    `json:"profile"`
	Role       string    `json:"role"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
