// Package dispatch delivers reminder notifications. The state machine in
// internal/scheduler depends only on the Dispatcher interface; whether
// delivery timers live in this process or in an external push service never
// changes its semantics.
package dispatch

import (
	"context"
	"time"
)

// Notification is one message to the user or their caregivers.
type Notification struct {
	UserID  string            `json:"user_id"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Key     string            `json:"key,omitempty"` // dedup key, empty disables journaling
	Payload map[string]string `json:"payload,omitempty"`
}

// Dispatcher delivers notifications. NativeTimers reports whether DispatchAt
// hands the delivery timer to an external service (native OS / push
// scheduling) instead of holding it in-process; the scheduler uses the flag
// to choose its timer primitive only.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
	DispatchAt(ctx context.Context, at time.Time, n Notification) error
	NativeTimers() bool
}

// Sink is the transport a dispatcher writes to.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// ScheduledSink is a transport that can hold a delivery timer itself.
type ScheduledSink interface {
	Sink
	SendAt(ctx context.Context, at time.Time, n Notification) error
}
