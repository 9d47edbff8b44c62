package scheduler

import (
	"time"
)

// ActionType classifies a user-originated dose action.
type ActionType string

const (
	ActionTaken  ActionType = "taken"
	ActionSnooze ActionType = "snooze"
	ActionSkip   ActionType = "skip"
	ActionView   ActionType = "view"
)

// DoseActionEvent is one user action against a medication's current
// reminder occurrence. Actions are queued and consumed synchronously by the
// scheduler's run goroutine, never broadcast.
type DoseActionEvent struct {
	Type         ActionType
	MedicationID string
	// ScheduledAt pins the action to a specific occurrence. Zero means
	// "the occurrence that is currently due or overdue".
	ScheduledAt time.Time
	// SnoozeFor is the deferral for ActionSnooze; zero uses the
	// configured default.
	SnoozeFor time.Duration
	Notes     string
}

type actionKind int

const (
	actUser actionKind = iota
	actFire
	actGraceTimeout
	actRefire
)

// actionRequest is the unit of work on the scheduler's queue. User actions
// carry a reply channel; timer-originated actions are fire-and-forget.
type actionRequest struct {
	kind  actionKind
	user  DoseActionEvent
	key   occurrenceKey
	reply chan error
}
