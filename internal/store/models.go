package store

import (
	"encoding/json"
	"time"
)

// DoseStatus is the persisted state of one scheduled dose occurrence.
type DoseStatus string

const (
	StatusScheduled DoseStatus = "scheduled"
	StatusTaken     DoseStatus = "taken"
	StatusMissed    DoseStatus = "missed"
	StatusSkipped   DoseStatus = "skipped"
)

// Terminal reports whether the status closes the occurrence. Terminal rows
// only change through an explicit corrective upsert on the natural key.
func (s DoseStatus) Terminal() bool {
	return s == StatusTaken || s == StatusMissed
}

// Medication is the minimal medication record the reminder engine needs:
// name and dosage for notification bodies, active flag for scheduling.
type Medication struct {
	ID           string `gorm:"primaryKey" json:"id"`
	UserID       string `gorm:"index" json:"user_id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"` // e.g., "10mg", "1 tablet"
	Instructions string `json:"instructions,omitempty"`
	Active       bool   `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationSettings controls who is told about a reminder.
type NotificationSettings struct {
	NotifyCaregivers bool   `json:"notify_caregivers"`
	Sound            string `json:"sound,omitempty"`
}

// ReminderSchedule defines a recurring dose reminder: a local time of day on
// a set of weekdays in an explicit timezone. Weekdays are stored in ISO form
// (1=Monday .. 7=Sunday); any other numbering is converted exactly once, at
// schedule creation.
type ReminderSchedule struct {
	ID           string `gorm:"primaryKey" json:"id"`
	UserID       string `gorm:"index:idx_sched_user_med" json:"user_id"`
	MedicationID string `gorm:"index:idx_sched_user_med" json:"medication_id"`

	TimeOfDay  string `json:"time_of_day"` // local "HH:MM"
	DaysOfWeek []int  `json:"days_of_week" gorm:"-"`
	DaysJSON   string `json:"-" gorm:"type:text"`
	Timezone   string `json:"timezone"`
	Active     bool   `gorm:"default:true" json:"active"`

	Settings     NotificationSettings `json:"settings" gorm:"-"`
	SettingsJSON string               `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *ReminderSchedule) marshalColumns() {
	if len(s.DaysOfWeek) > 0 {
		b, _ := json.Marshal(s.DaysOfWeek)
		s.DaysJSON = string(b)
	}
	b, _ := json.Marshal(s.Settings)
	s.SettingsJSON = string(b)
}

func (s *ReminderSchedule) unmarshalColumns() {
	if s.DaysJSON != "" {
		json.Unmarshal([]byte(s.DaysJSON), &s.DaysOfWeek)
	}
	if s.SettingsJSON != "" {
		json.Unmarshal([]byte(s.SettingsJSON), &s.Settings)
	}
}

// ScheduledDose is one dose occurrence. The natural key
// (user_id, medication_id, scheduled_at) carries a unique index so every
// write path is an upsert; there is never a second row for an occurrence.
type ScheduledDose struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"uniqueIndex:idx_dose_occurrence" json:"user_id"`
	MedicationID string    `gorm:"uniqueIndex:idx_dose_occurrence" json:"medication_id"`
	ScheduledAt  time.Time `gorm:"uniqueIndex:idx_dose_occurrence" json:"scheduled_at"` // UTC instant

	Status  DoseStatus `gorm:"index" json:"status"`
	TakenAt *time.Time `json:"taken_at,omitempty"`
	Notes   string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
