package scheduler

import (
	"fmt"
	"time"
)

// State is the in-memory lifecycle of one reminder occurrence.
type State int

const (
	StateIdle State = iota
	StateFired
	StateSnoozed
	StateTaken
	StateMissed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFired:
		return "fired"
	case StateSnoozed:
		return "snoozed"
	case StateTaken:
		return "taken"
	case StateMissed:
		return "missed"
	}
	return "unknown"
}

// occurrenceKey identifies one (medication, scheduled instant) occurrence.
type occurrenceKey string

func keyFor(medicationID string, scheduledAt time.Time) occurrenceKey {
	return occurrenceKey(fmt.Sprintf("%s@%s", medicationID, scheduledAt.UTC().Truncate(time.Minute).Format(time.RFC3339)))
}

// occurrence is one registry entry. Each occurrence owns at most one active
// timer; arming a new one always cancels the old one first.
type occurrence struct {
	key            occurrenceKey
	userID         string
	medicationID   string
	medicationName string
	dosage         string
	scheduledAt    time.Time // UTC, minute resolution
	notifyCarers   bool

	state       State
	snoozeCount int
	timer       *time.Timer
}

// arm replaces the occurrence's timer. The previous timer, grace or snooze,
// is always cancelled explicitly; duplicate dispatch under one key is
// impossible.
func (o *occurrence) arm(d time.Duration, fn func()) {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(d, fn)
}

// disarm cancels any pending timer.
func (o *occurrence) disarm() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
