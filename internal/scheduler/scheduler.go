// Package scheduler owns the per-occurrence grace/snooze state machine and
// the timer registry behind it. All state transitions run on one goroutine,
// fed by a synchronously consumed action queue; the dose log is the only
// durable state and every write to it is an upsert on the occurrence's
// natural key.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/config"
	"github.com/mpineda/dosewatch/internal/dispatch"
	"github.com/mpineda/dosewatch/internal/errors"
	"github.com/mpineda/dosewatch/internal/metrics"
	"github.com/mpineda/dosewatch/internal/store"
	"github.com/mpineda/dosewatch/internal/timing"
)

// Store is the slice of the persistence layer the scheduler consumes.
// *store.Store satisfies it.
type Store interface {
	ListAllActiveSchedules() ([]store.ReminderSchedule, error)
	ListActiveSchedules(userID, medicationID string) ([]store.ReminderSchedule, error)
	GetMedication(id string) (*store.Medication, error)
	EnsureDose(userID, medicationID string, scheduledAt time.Time) error
	UpsertDose(userID, medicationID string, scheduledAt time.Time, status store.DoseStatus, takenAt *time.Time, notes string) error
	GetDose(userID, medicationID string, scheduledAt time.Time) (*store.ScheduledDose, error)
	TakenNear(userID, medicationID string, scheduledAt time.Time, tolerance time.Duration) (bool, error)
	ListElapsedScheduled(cutoff time.Time) ([]store.ScheduledDose, error)
}

// Scheduler drives reminder firing, the grace-period state machine, bounded
// snoozing, and restart reconciliation.
type Scheduler struct {
	store      Store
	dispatcher dispatch.Dispatcher
	caregivers *dispatch.CaregiverNotifier
	logger     *zap.Logger
	metrics    *metrics.Metrics
	events     eventBus

	// now is the clock, replaceable in tests.
	now func() time.Time

	// interval overrides, zero means "use settings"
	graceOverride  time.Duration
	snoozeOverride time.Duration
	scanOverride   time.Duration

	settingsMu sync.RWMutex
	settings   config.RemindersConfig

	mu  sync.Mutex
	occ map[occurrenceKey]*occurrence

	actions chan actionRequest
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// New creates a scheduler. caregivers may be nil when no channel is
// configured.
func New(st Store, d dispatch.Dispatcher, caregivers *dispatch.CaregiverNotifier, settings config.RemindersConfig, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:      st,
		dispatcher: d,
		caregivers: caregivers,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		settings:   settings,
		occ:        make(map[occurrenceKey]*occurrence),
		actions:    make(chan actionRequest, 64),
		stopCh:     make(chan struct{}),
	}
}

// WithClock replaces the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithIntervals overrides the grace, snooze and scan durations taken from
// settings. Zero keeps the configured value. Test hook.
func (s *Scheduler) WithIntervals(grace, snooze, scan time.Duration) *Scheduler {
	s.graceOverride = grace
	s.snoozeOverride = snooze
	s.scanOverride = scan
	return s
}

func (s *Scheduler) gracePeriod() time.Duration {
	if s.graceOverride > 0 {
		return s.graceOverride
	}
	return s.getSettings().GracePeriod()
}

func (s *Scheduler) snoozeInterval() time.Duration {
	if s.snoozeOverride > 0 {
		return s.snoozeOverride
	}
	return s.getSettings().SnoozeInterval()
}

func (s *Scheduler) scanInterval() time.Duration {
	if s.scanOverride > 0 {
		return s.scanOverride
	}
	return s.getSettings().ScanInterval()
}

// UpdateSettings applies hot-reloaded reminder tuning. Already-armed timers
// keep their original durations; new arms use the new values.
func (s *Scheduler) UpdateSettings(settings config.RemindersConfig) {
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()
	s.logger.Info("Scheduler settings updated",
		zap.Duration("grace", settings.GracePeriod()),
		zap.Int("max_snoozes", settings.MaxSnoozes),
	)
}

func (s *Scheduler) getSettings() config.RemindersConfig {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// Subscribe returns a channel of doseDue/doseMissed events. Callers must
// release it with Unsubscribe when done.
func (s *Scheduler) Subscribe() <-chan Event {
	return s.events.subscribe()
}

// Unsubscribe releases a channel obtained from Subscribe and closes it.
func (s *Scheduler) Unsubscribe(ch <-chan Event) {
	s.events.unsubscribe(ch)
}

// Start launches the run loop: an immediate reconciliation pass for doses
// whose grace window elapsed while the process was down, then the periodic
// scan.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.runMu.Unlock()

	s.logger.Info("Starting dose scheduler",
		zap.Duration("scan_interval", s.scanInterval()),
		zap.Bool("native_timers", s.dispatcher.NativeTimers()),
	)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts the run loop and cancels every armed timer.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for _, o := range s.occ {
		o.disarm()
	}
	s.occ = make(map[occurrenceKey]*occurrence)
	s.mu.Unlock()
	s.metrics.ActiveTimers.Set(0)

	s.logger.Info("Dose scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.scanInterval())
	defer ticker.Stop()

	// Repair first: timers did not survive the last shutdown.
	s.reconcile()
	s.scan()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case req := <-s.actions:
			err := s.handle(req)
			if req.reply != nil {
				req.reply <- err
			}
		case <-ticker.C:
			s.reconcile()
			s.scan()
		}
	}
}

// enqueue submits a user action and waits for the state machine's reply.
func (s *Scheduler) enqueue(action DoseActionEvent) error {
	req := actionRequest{kind: actUser, user: action, reply: make(chan error, 1)}
	select {
	case s.actions <- req:
	case <-s.stopCh:
		return fmt.Errorf("scheduler not running")
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
}

// enqueueInternal submits a timer-originated transition without waiting.
func (s *Scheduler) enqueueInternal(kind actionKind, key occurrenceKey) {
	select {
	case s.actions <- actionRequest{kind: kind, key: key}:
	case <-s.stopCh:
	}
}

// MarkTaken acknowledges the medication's current occurrence as taken.
// Idempotent: repeated calls upsert the same log row.
func (s *Scheduler) MarkTaken(medicationID string) error {
	return s.enqueue(DoseActionEvent{Type: ActionTaken, MedicationID: medicationID})
}

// Snooze defers the medication's active reminder. Rejected with
// ErrSnoozeLimit after three snoozes on one occurrence.
func (s *Scheduler) Snooze(medicationID string, minutes int) error {
	var d time.Duration
	if minutes > 0 {
		d = time.Duration(minutes) * time.Minute
	}
	return s.enqueue(DoseActionEvent{Type: ActionSnooze, MedicationID: medicationID, SnoozeFor: d})
}

// Skip records the current occurrence as deliberately skipped.
func (s *Scheduler) Skip(medicationID, notes string) error {
	return s.enqueue(DoseActionEvent{Type: ActionSkip, MedicationID: medicationID, Notes: notes})
}

// Apply runs an explicit DoseActionEvent through the state machine.
func (s *Scheduler) Apply(action DoseActionEvent) error {
	return s.enqueue(action)
}

// NextDoseInfo classifies "now" for one medication: next dose instant plus
// mutually exclusive due/overdue flags. Pure read; no registry access.
func (s *Scheduler) NextDoseInfo(medicationID string) (timing.NextDoseInfo, error) {
	med, err := s.store.GetMedication(medicationID)
	if err != nil {
		return timing.NextDoseInfo{}, err
	}
	if med == nil {
		return timing.NextDoseInfo{}, errors.ErrMedNotFound
	}

	schedules, err := s.resolverSchedules(med.UserID, medicationID)
	if err != nil {
		return timing.NextDoseInfo{}, err
	}

	settings := s.getSettings()
	tolerance := time.Duration(settings.TakenToleranceMin) * time.Minute
	takenNear := func(at time.Time) bool {
		taken, err := s.store.TakenNear(med.UserID, medicationID, at, tolerance)
		if err != nil {
			s.logger.Warn("Taken lookup failed", zap.Error(err))
			return false
		}
		return taken
	}

	return timing.Resolve(schedules, s.now(), s.gracePeriod(), takenNear), nil
}

// resolverSchedules loads a medication's active schedules in resolver form.
// An empty result is the "not scheduled" case, not an error.
func (s *Scheduler) resolverSchedules(userID, medicationID string) ([]timing.Schedule, error) {
	rows, err := s.store.ListActiveSchedules(userID, medicationID)
	if err != nil {
		return nil, err
	}
	return toResolverSchedules(rows, s.logger), nil
}

func toResolverSchedules(rows []store.ReminderSchedule, logger *zap.Logger) []timing.Schedule {
	out := make([]timing.Schedule, 0, len(rows))
	for i := range rows {
		days, err := timing.NormalizeWeekdays(rows[i].DaysOfWeek, false)
		if err != nil {
			logger.Warn("Skipping schedule with bad weekday set",
				zap.String("schedule_id", rows[i].ID))
			continue
		}
		sched, err := timing.NewSchedule(rows[i].ID, rows[i].TimeOfDay, rows[i].Timezone, days)
		if err != nil {
			logger.Warn("Skipping unparsable schedule",
				zap.String("schedule_id", rows[i].ID),
				zap.Error(err))
			continue
		}
		out = append(out, sched)
	}
	return out
}

// ActiveOccurrences reports how many occurrences currently hold state.
func (s *Scheduler) ActiveOccurrences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.occ)
}
