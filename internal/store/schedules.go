package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mpineda/dosewatch/internal/errors"
	"github.com/mpineda/dosewatch/internal/timing"
)

// CreateSchedule validates and persists a reminder schedule. This is the
// single boundary where weekday numbering is normalized: legacyZeroSunday
// marks input using the 0=Sunday convention, everything stored is ISO 1-7.
func (s *Store) CreateSchedule(sched *ReminderSchedule, legacyZeroSunday bool) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}

	days, err := timing.NormalizeWeekdays(sched.DaysOfWeek, legacyZeroSunday)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return errors.Wrap(nil, errors.ErrScheduleInvalid.Code, "schedule needs at least one weekday")
	}
	sched.DaysOfWeek = timing.WeekdayInts(days)

	if _, _, err := timing.ParseTimeOfDay(sched.TimeOfDay); err != nil {
		return errors.Wrap(err, errors.ErrBadTimeOfDay.Code, errors.ErrBadTimeOfDay.Message)
	}
	if _, err := time.LoadLocation(sched.Timezone); err != nil {
		return errors.Wrap(err, errors.ErrScheduleInvalid.Code, "unknown timezone")
	}

	sched.marshalColumns()
	sched.CreatedAt = time.Now()
	sched.UpdatedAt = time.Now()
	return s.db.Create(sched).Error
}

// CreateScheduleFromCron builds a schedule from a "M H * * dow" cron
// expression and persists it. Cron weekday numbering is converted at this
// boundary like every other input format.
func (s *Store) CreateScheduleFromCron(userID, medicationID, cronExpr, timezone string, settings NotificationSettings) (*ReminderSchedule, error) {
	timeOfDay, days, err := timing.FromCronExpr(cronExpr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrScheduleInvalid.Code, errors.ErrScheduleInvalid.Message)
	}

	sched := &ReminderSchedule{
		UserID:       userID,
		MedicationID: medicationID,
		TimeOfDay:    timeOfDay,
		DaysOfWeek:   timing.WeekdayInts(days),
		Timezone:     timezone,
		Active:       true,
		Settings:     settings,
	}
	if err := s.CreateSchedule(sched, false); err != nil {
		return nil, err
	}
	return sched, nil
}

// GetSchedule returns one schedule, nil when absent.
func (s *Store) GetSchedule(id string) (*ReminderSchedule, error) {
	var sched ReminderSchedule
	err := s.db.Where("id = ?", id).First(&sched).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sched.unmarshalColumns()
	return &sched, nil
}

// ListActiveSchedules returns active schedules for one medication.
func (s *Store) ListActiveSchedules(userID, medicationID string) ([]ReminderSchedule, error) {
	var scheds []ReminderSchedule
	err := s.db.
		Where("user_id = ? AND medication_id = ? AND active = ?", userID, medicationID, true).
		Order("time_of_day ASC").
		Find(&scheds).Error
	if err != nil {
		return nil, err
	}
	for i := range scheds {
		scheds[i].unmarshalColumns()
	}
	return scheds, nil
}

// ListAllActiveSchedules returns every active schedule, for the periodic scan.
func (s *Store) ListAllActiveSchedules() ([]ReminderSchedule, error) {
	var scheds []ReminderSchedule
	err := s.db.Where("active = ?", true).Find(&scheds).Error
	if err != nil {
		return nil, err
	}
	for i := range scheds {
		scheds[i].unmarshalColumns()
	}
	return scheds, nil
}

// DeactivateSchedule turns a schedule off without deleting its history.
func (s *Store) DeactivateSchedule(id string) error {
	res := s.db.Model(&ReminderSchedule{}).Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule definition.
func (s *Store) DeleteSchedule(id string) error {
	return s.db.Where("id = ?", id).Delete(&ReminderSchedule{}).Error
}
