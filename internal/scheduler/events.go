package scheduler

import (
	"sync"
	"time"
)

// EventType identifies a scheduler event.
type EventType string

const (
	EventDoseDue    EventType = "dose_due"
	EventDoseMissed EventType = "dose_missed"
)

// Event is emitted when a reminder fires or a dose is marked missed.
type Event struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"user_id"`
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

type eventBus struct {
	mu   sync.Mutex
	subs []chan Event
}

// subscribe returns a buffered event channel. Slow consumers drop events
// rather than blocking the state machine.
func (b *eventBus) subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// unsubscribe removes ch from the bus and closes it, which ends any range
// loop over the channel. Safe to call with a channel that was already
// removed.
func (b *eventBus) unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
