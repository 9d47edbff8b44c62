package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusUnsubscribeReleasesChannel(t *testing.T) {
	var bus eventBus

	chans := make([]<-chan Event, 0, 100)
	for i := 0; i < 100; i++ {
		chans = append(chans, bus.subscribe())
	}
	require.Len(t, bus.subs, 100)

	for _, ch := range chans {
		bus.unsubscribe(ch)
	}
	assert.Empty(t, bus.subs)

	// Released channels are closed so range loops over them terminate.
	_, open := <-chans[0]
	assert.False(t, open)
}

func TestEventBusPublishAfterUnsubscribe(t *testing.T) {
	var bus eventBus

	gone := bus.subscribe()
	kept := bus.subscribe()
	bus.unsubscribe(gone)

	bus.publish(Event{Type: EventDoseDue, MedicationID: "med_1"})

	ev := <-kept
	assert.Equal(t, "med_1", ev.MedicationID)

	// Unsubscribing an already-released channel is a no-op.
	bus.unsubscribe(gone)
	bus.unsubscribe(kept)
	assert.Empty(t, bus.subs)
}

func TestSchedulerUnsubscribe(t *testing.T) {
	s := &Scheduler{}
	for i := 0; i < 10; i++ {
		ch := s.Subscribe()
		s.Unsubscribe(ch)
	}
	assert.Empty(t, s.events.subs)
}
