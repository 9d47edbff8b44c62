package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/config"
	"github.com/mpineda/dosewatch/internal/dispatch"
	"github.com/mpineda/dosewatch/internal/store"
	"github.com/mpineda/dosewatch/internal/timing"
)

// timingResolveCurrent returns the scheduled instant of the occurrence that
// is due or overdue right now, if any.
func timingResolveCurrent(schedules []timing.Schedule, now time.Time, grace time.Duration) *time.Time {
	info := timing.Resolve(schedules, now, grace, nil)
	return info.CurrentReminderTime
}

type scheduleGroup struct {
	userID       string
	medicationID string
	rows         []store.ReminderSchedule
}

// scan is the periodic recomputation pass: it refreshes due/overdue
// classification for every active schedule, fires occurrences that became
// due since the last pass, and arms fire timers for occurrences inside the
// lookahead window. Safe to interleave with user actions because all log
// writes are natural-key upserts.
func (s *Scheduler) scan() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in scheduler scan", zap.Any("recover", r))
		}
	}()

	rows, err := s.store.ListAllActiveSchedules()
	if err != nil {
		s.logger.Error("Failed to list schedules", zap.Error(err))
		return
	}

	groups := make(map[string]*scheduleGroup)
	for i := range rows {
		k := rows[i].UserID + "|" + rows[i].MedicationID
		g, ok := groups[k]
		if !ok {
			g = &scheduleGroup{userID: rows[i].UserID, medicationID: rows[i].MedicationID}
			groups[k] = g
		}
		g.rows = append(g.rows, rows[i])
	}

	now := s.now()
	settings := s.getSettings()
	lookahead := 2 * s.scanInterval()

	for _, g := range groups {
		med, err := s.store.GetMedication(g.medicationID)
		if err != nil || med == nil || !med.Active {
			continue
		}

		schedules := toResolverSchedules(g.rows, s.logger)
		if len(schedules) == 0 {
			continue
		}

		notifyCarers := false
		for i := range g.rows {
			if g.rows[i].Settings.NotifyCaregivers {
				notifyCarers = true
			}
		}

		// Fire anything already inside its grace window.
		if cur := s.currentUnresolved(med, schedules, now, settings); cur != nil {
			if o := s.register(med, *cur, notifyCarers); o != nil {
				s.enqueueInternal(actFire, o.key)
			}
		}

		// Arm the next occurrence when it is close enough.
		var next time.Time
		for _, sched := range schedules {
			cand := sched.NextOccurrence(now)
			if next.IsZero() || cand.Before(next) {
				next = cand
			}
		}
		if !next.IsZero() && next.Sub(now) <= lookahead {
			s.armFire(med, next, notifyCarers)
		}
	}
}

// currentUnresolved returns the instant of a due occurrence with no
// registry entry and no resolving log row.
func (s *Scheduler) currentUnresolved(med *store.Medication, schedules []timing.Schedule, now time.Time, settings config.RemindersConfig) *time.Time {
	tolerance := time.Duration(settings.TakenToleranceMin) * time.Minute
	takenNear := func(at time.Time) bool {
		taken, err := s.store.TakenNear(med.UserID, med.ID, at, tolerance)
		if err != nil {
			return false
		}
		return taken
	}

	info := timing.Resolve(schedules, now, s.gracePeriod(), takenNear)
	if !info.IsDue || info.CurrentReminderTime == nil {
		return nil
	}
	at := *info.CurrentReminderTime

	if s.lookup(keyFor(med.ID, at)) != nil {
		return nil
	}

	dose, err := s.store.GetDose(med.UserID, med.ID, at)
	if err != nil {
		s.logger.Warn("Dose lookup failed during scan", zap.Error(err))
		return nil
	}
	if dose != nil && dose.Status != store.StatusScheduled {
		return nil
	}
	return &at
}

// register creates an Idle registry entry for an occurrence; returns nil if
// one already exists.
func (s *Scheduler) register(med *store.Medication, at time.Time, notifyCarers bool) *occurrence {
	key := keyFor(med.ID, at)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occ[key]; ok {
		return nil
	}
	o := &occurrence{
		key:            key,
		userID:         med.UserID,
		medicationID:   med.ID,
		medicationName: med.Name,
		dosage:         med.Dosage,
		scheduledAt:    at.UTC().Truncate(time.Minute),
		notifyCarers:   notifyCarers,
		state:          StateIdle,
	}
	s.occ[key] = o
	s.metrics.ActiveTimers.Set(float64(len(s.occ)))
	return o
}

// armFire registers a future occurrence and arms its fire timer. With a
// native-timer dispatcher the notification itself is pre-scheduled on the
// transport; the in-process timer then only drives the grace state machine.
func (s *Scheduler) armFire(med *store.Medication, at time.Time, notifyCarers bool) {
	o := s.register(med, at, notifyCarers)
	if o == nil {
		return
	}
	key := o.key
	o.arm(at.Sub(s.now()), func() {
		s.enqueueInternal(actFire, key)
	})

	if s.dispatcher.NativeTimers() {
		body := "Time to take " + med.Name
		if med.Dosage != "" {
			body += " (" + med.Dosage + ")"
		}
		err := s.dispatcher.DispatchAt(context.Background(), at, dispatch.Notification{
			UserID: med.UserID,
			Title:  "Medication reminder",
			Body:   body,
			Key:    string(key) + "#0",
			Payload: map[string]string{
				"medication_id": med.ID,
				"scheduled_at":  at.Format(time.RFC3339),
			},
		})
		if err != nil {
			s.logger.Error("Failed to pre-schedule notification",
				zap.String("medication", med.Name),
				zap.Error(err),
			)
		}
	}
}

// reconcile retroactively marks missed every dose still `scheduled` whose
// grace window elapsed with no live timer, repairing suspension and restart
// gaps. Runs before the first scan on startup and on every tick after.
func (s *Scheduler) reconcile() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in reconciliation", zap.Any("recover", r))
		}
	}()

	s.metrics.ReconcileRuns.Inc()

	cutoff := s.now().Add(-s.gracePeriod())

	// An occurrence whose entire fire and grace window passed while the
	// process was down never got an EnsureDose row. Backfill the most
	// recent such occurrence per schedule so the sweep below records it.
	s.backfillElapsed(cutoff)

	rows, err := s.store.ListElapsedScheduled(cutoff)
	if err != nil {
		s.logger.Error("Reconciliation query failed", zap.Error(err))
		return
	}

	for i := range rows {
		row := &rows[i]
		key := keyFor(row.MedicationID, row.ScheduledAt)

		// A live Fired/Snoozed entry still owns this occurrence; its
		// own timers decide the outcome.
		if o := s.lookup(key); o != nil && (o.state == StateFired || o.state == StateSnoozed) {
			continue
		}

		if err := s.upsertWithRetry(row.UserID, row.MedicationID, row.ScheduledAt,
			store.StatusMissed, nil, "auto-missed: grace period elapsed while scheduler was offline"); err != nil {
			s.logger.Error("Failed to reconcile missed dose",
				zap.String("occurrence", string(key)),
				zap.Error(err),
			)
			continue
		}

		s.remove(key)
		s.metrics.DosesMissed.Inc()
		s.metrics.ReconcileMissed.Inc()

		medName := row.MedicationID
		notifyCarers := false
		if med, err := s.store.GetMedication(row.MedicationID); err == nil && med != nil {
			medName = med.Name
			if scheds, err := s.store.ListActiveSchedules(row.UserID, row.MedicationID); err == nil {
				for j := range scheds {
					if scheds[j].Settings.NotifyCaregivers {
						notifyCarers = true
					}
				}
			}
		}

		s.notifyCaregiversMissed(&occurrence{
			userID:         row.UserID,
			medicationID:   row.MedicationID,
			medicationName: medName,
			scheduledAt:    row.ScheduledAt,
			notifyCarers:   notifyCarers,
		})
		s.events.publish(Event{
			Type:           EventDoseMissed,
			UserID:         row.UserID,
			MedicationID:   row.MedicationID,
			MedicationName: medName,
			ScheduledAt:    row.ScheduledAt,
		})

		s.logger.Info("Reconciled elapsed dose as missed",
			zap.String("medication_id", row.MedicationID),
			zap.Time("scheduled_at", row.ScheduledAt),
		)
	}
}

// backfillElapsed inserts a scheduled-status row for the most recent
// occurrence of each active schedule at or before the cutoff, bounded by
// the schedule's creation time. Existing rows are left untouched, so
// occurrences already resolved stay resolved.
func (s *Scheduler) backfillElapsed(cutoff time.Time) {
	rows, err := s.store.ListAllActiveSchedules()
	if err != nil {
		s.logger.Error("Failed to list schedules for backfill", zap.Error(err))
		return
	}

	for i := range rows {
		scheds := toResolverSchedules(rows[i:i+1], s.logger)
		if len(scheds) == 0 {
			continue
		}
		occ, ok := scheds[0].LastOccurrence(cutoff)
		if !ok || occ.Before(rows[i].CreatedAt) {
			continue
		}
		if o := s.lookup(keyFor(rows[i].MedicationID, occ)); o != nil {
			continue
		}
		med, err := s.store.GetMedication(rows[i].MedicationID)
		if err != nil || med == nil || !med.Active {
			continue
		}
		if err := s.store.EnsureDose(rows[i].UserID, rows[i].MedicationID, occ); err != nil {
			s.logger.Warn("Failed to backfill elapsed occurrence",
				zap.String("medication_id", rows[i].MedicationID),
				zap.Time("scheduled_at", occ),
				zap.Error(err),
			)
		}
	}
}
