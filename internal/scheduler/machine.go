package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/dispatch"
	"github.com/mpineda/dosewatch/internal/errors"
	"github.com/mpineda/dosewatch/internal/store"
)

// handle executes one action on the run goroutine. Every state transition
// in the system goes through here.
func (s *Scheduler) handle(req actionRequest) error {
	switch req.kind {
	case actFire:
		s.handleFire(req.key)
		return nil
	case actGraceTimeout:
		s.handleGraceTimeout(req.key)
		return nil
	case actRefire:
		s.handleRefire(req.key)
		return nil
	default:
		return s.handleUserAction(req.user)
	}
}

func (s *Scheduler) lookup(key occurrenceKey) *occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occ[key]
}

func (s *Scheduler) remove(key occurrenceKey) {
	s.mu.Lock()
	if o, ok := s.occ[key]; ok {
		o.disarm()
		delete(s.occ, key)
	}
	s.metrics.ActiveTimers.Set(float64(len(s.occ)))
	s.mu.Unlock()
}

// handleFire transitions Idle -> Fired: notify the user, ensure the log row
// exists, start the grace timer.
func (s *Scheduler) handleFire(key occurrenceKey) {
	o := s.lookup(key)
	if o == nil || o.state != StateIdle {
		return
	}

	// An early confirmation inside the tolerance window suppresses the
	// reminder entirely; no duplicate nagging after the user already took
	// the dose.
	settings := s.getSettings()
	tolerance := time.Duration(settings.TakenToleranceMin) * time.Minute
	if taken, err := s.store.TakenNear(o.userID, o.medicationID, o.scheduledAt, tolerance); err == nil && taken {
		s.remove(key)
		return
	}

	o.state = StateFired

	if err := s.store.EnsureDose(o.userID, o.medicationID, o.scheduledAt); err != nil {
		s.logger.Error("Failed to record scheduled dose",
			zap.String("occurrence", string(key)),
			zap.Error(err),
		)
	}

	// With native timers the transport already delivered (or will deliver)
	// the pre-scheduled notification; dispatching again would duplicate it.
	if !s.dispatcher.NativeTimers() {
		s.dispatchReminder(o, 0)
	}

	s.startGrace(o)
	s.metrics.DosesFired.Inc()
	s.events.publish(Event{
		Type:           EventDoseDue,
		UserID:         o.userID,
		MedicationID:   o.medicationID,
		MedicationName: o.medicationName,
		ScheduledAt:    o.scheduledAt,
	})

	s.logger.Info("Reminder fired",
		zap.String("medication", o.medicationName),
		zap.Time("scheduled_at", o.scheduledAt),
	)
}

func (s *Scheduler) startGrace(o *occurrence) {
	key := o.key
	o.arm(s.gracePeriod(), func() {
		s.enqueueInternal(actGraceTimeout, key)
	})
}

// handleGraceTimeout transitions Fired -> Missed when the grace window
// elapses without an acknowledgement.
func (s *Scheduler) handleGraceTimeout(key occurrenceKey) {
	o := s.lookup(key)
	if o == nil || o.state != StateFired {
		return
	}

	if err := s.upsertWithRetry(o.userID, o.medicationID, o.scheduledAt,
		store.StatusMissed, nil, "auto-missed: no response in grace period"); err != nil {
		s.logger.Error("Failed to persist missed dose",
			zap.String("occurrence", string(key)),
			zap.Error(err),
		)
		// Drop the registry entry: a Fired entry with no armed timer would
		// shadow this occurrence from the scan and reconciliation forever.
		// With it gone the next pass re-owns the occurrence and retries.
		s.remove(key)
		return
	}

	o.state = StateMissed
	s.metrics.DosesMissed.Inc()
	s.notifyCaregiversMissed(o)
	s.events.publish(Event{
		Type:           EventDoseMissed,
		UserID:         o.userID,
		MedicationID:   o.medicationID,
		MedicationName: o.medicationName,
		ScheduledAt:    o.scheduledAt,
	})
	s.remove(key)

	s.logger.Info("Dose auto-missed",
		zap.String("medication", o.medicationName),
		zap.Time("scheduled_at", o.scheduledAt),
	)
}

// handleRefire transitions Snoozed -> Fired after the snooze interval.
func (s *Scheduler) handleRefire(key occurrenceKey) {
	o := s.lookup(key)
	if o == nil || o.state != StateSnoozed {
		return
	}
	o.state = StateFired
	s.dispatchReminder(o, o.snoozeCount)
	s.startGrace(o)

	s.logger.Info("Snoozed reminder refired",
		zap.String("medication", o.medicationName),
		zap.Int("snooze_count", o.snoozeCount),
	)
}

func (s *Scheduler) handleUserAction(action DoseActionEvent) error {
	switch action.Type {
	case ActionTaken:
		return s.handleTaken(action)
	case ActionSnooze:
		return s.handleSnooze(action)
	case ActionSkip:
		return s.handleSkip(action)
	case ActionView:
		// View only dismisses nothing; the reminder stays armed.
		return nil
	default:
		return errors.Wrap(nil, errors.ErrBadRequest.Code, fmt.Sprintf("unknown action %q", action.Type))
	}
}

// handleTaken acknowledges an occurrence. Works from Fired or any Snoozed
// state, and also after the occurrence already went Missed: the upsert on
// the natural key flips missed -> taken in place.
func (s *Scheduler) handleTaken(action DoseActionEvent) error {
	userID, at, o, err := s.targetOccurrence(action)
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.upsertWithRetry(userID, action.MedicationID, at,
		store.StatusTaken, &now, action.Notes); err != nil {
		return err
	}

	if o != nil {
		o.state = StateTaken
		s.remove(o.key)
	}
	s.metrics.DosesTaken.Inc()

	s.logger.Info("Dose taken",
		zap.String("medication_id", action.MedicationID),
		zap.Time("scheduled_at", at),
	)
	return nil
}

func (s *Scheduler) handleSkip(action DoseActionEvent) error {
	userID, at, o, err := s.targetOccurrence(action)
	if err != nil {
		return err
	}

	if err := s.upsertWithRetry(userID, action.MedicationID, at,
		store.StatusSkipped, nil, action.Notes); err != nil {
		return err
	}

	if o != nil {
		s.remove(o.key)
	}
	s.metrics.DosesSkipped.Inc()
	return nil
}

// handleSnooze defers an active reminder. Only an occurrence with a live
// reminder (Fired or Snoozed) can be snoozed, and only three times.
func (s *Scheduler) handleSnooze(action DoseActionEvent) error {
	o := s.activeOccurrence(action.MedicationID)
	if o == nil {
		return errors.ErrNoActiveDose
	}

	settings := s.getSettings()
	if o.snoozeCount >= settings.MaxSnoozes {
		s.metrics.SnoozesRejected.Inc()
		return errors.ErrSnoozeLimit
	}

	interval := action.SnoozeFor
	if interval <= 0 {
		interval = s.snoozeInterval()
	}

	o.snoozeCount++
	o.state = StateSnoozed
	key := o.key
	o.arm(interval, func() {
		s.enqueueInternal(actRefire, key)
	})
	s.metrics.Snoozes.Inc()

	s.logger.Info("Reminder snoozed",
		zap.String("medication", o.medicationName),
		zap.Int("snooze_count", o.snoozeCount),
		zap.Duration("interval", interval),
	)
	return nil
}

// activeOccurrence returns the medication's registry entry holding a live
// reminder, preferring the most recent occurrence.
func (s *Scheduler) activeOccurrence(medicationID string) *occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *occurrence
	for _, o := range s.occ {
		if o.medicationID != medicationID {
			continue
		}
		if o.state != StateFired && o.state != StateSnoozed {
			continue
		}
		if best == nil || o.scheduledAt.After(best.scheduledAt) {
			best = o
		}
	}
	return best
}

// targetOccurrence resolves which occurrence a Taken/Skip action applies
// to: an explicit instant, a live registry entry, or the occurrence the
// resolver says is currently due or overdue (covering a late ack after the
// grace timer already persisted a miss).
func (s *Scheduler) targetOccurrence(action DoseActionEvent) (userID string, at time.Time, o *occurrence, err error) {
	med, err := s.store.GetMedication(action.MedicationID)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if med == nil {
		return "", time.Time{}, nil, errors.ErrMedNotFound
	}

	if !action.ScheduledAt.IsZero() {
		at = action.ScheduledAt.UTC().Truncate(time.Minute)
		return med.UserID, at, s.lookup(keyFor(action.MedicationID, at)), nil
	}

	if o = s.activeOccurrence(action.MedicationID); o != nil {
		return med.UserID, o.scheduledAt, o, nil
	}

	schedules, err := s.resolverSchedules(med.UserID, action.MedicationID)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	info := timingResolveCurrent(schedules, s.now(), s.gracePeriod())
	if info == nil {
		return "", time.Time{}, nil, errors.ErrNoActiveDose
	}
	return med.UserID, *info, nil, nil
}

func (s *Scheduler) dispatchReminder(o *occurrence, attempt int) {
	body := fmt.Sprintf("Time to take %s", o.medicationName)
	if o.dosage != "" {
		body = fmt.Sprintf("Time to take %s (%s)", o.medicationName, o.dosage)
	}
	n := dispatch.Notification{
		UserID: o.userID,
		Title:  "Medication reminder",
		Body:   body,
		Key:    fmt.Sprintf("%s#%d", o.key, attempt),
		Payload: map[string]string{
			"medication_id": o.medicationID,
			"scheduled_at":  o.scheduledAt.Format(time.RFC3339),
		},
	}
	if err := s.dispatcher.Dispatch(context.Background(), n); err != nil {
		s.logger.Error("Reminder dispatch failed",
			zap.String("medication", o.medicationName),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) notifyCaregiversMissed(o *occurrence) {
	if s.caregivers == nil || !o.notifyCarers {
		return
	}
	text := fmt.Sprintf("%s dose scheduled at %s was missed (no response in grace period)",
		o.medicationName, o.scheduledAt.Local().Format("Mon 15:04"))
	s.caregivers.Notify(context.Background(), text)
}

// upsertWithRetry writes a dose status, retrying once before surfacing a
// persistence failure.
func (s *Scheduler) upsertWithRetry(userID, medicationID string, at time.Time, status store.DoseStatus, takenAt *time.Time, notes string) error {
	err := s.store.UpsertDose(userID, medicationID, at, status, takenAt, notes)
	if err == nil {
		return nil
	}
	s.logger.Warn("Dose upsert failed, retrying",
		zap.String("medication_id", medicationID),
		zap.Error(err),
	)
	if err = s.store.UpsertDose(userID, medicationID, at, status, takenAt, notes); err != nil {
		return errors.Wrap(err, errors.ErrPersistence.Code, errors.ErrPersistence.Message)
	}
	return nil
}
