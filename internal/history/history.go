// Package history exports fleet lifecycle events (launch, death, restart,
// teardown) to an audit store, so operators can reconstruct what the
// supervisor did long after the container logs are gone.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventRestart  EventType = "restart"
	EventAbort    EventType = "abort"
	EventShutdown EventType = "shutdown"
)

// Record identifies the role a lifecycle event belongs to.
type Record struct {
	Role     string `json:"role"`
	PID      int    `json:"pid"`
	Restarts int    `json:"restarts"`
	Detail   string `json:"detail,omitempty"`
}

// Event is one lifecycle event bound for an audit sink.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
