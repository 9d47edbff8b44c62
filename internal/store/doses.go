package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// occurrenceKey normalizes a scheduled instant for natural-key equality.
// Occurrences are minute-resolution by construction; truncating here keeps
// the unique index stable across writers.
func occurrenceKey(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

var doseConflict = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "user_id"},
		{Name: "medication_id"},
		{Name: "scheduled_at"},
	},
	DoUpdates: clause.AssignmentColumns([]string{"status", "taken_at", "notes", "updated_at"}),
}

// EnsureDose records that an occurrence exists, without touching its status
// if a row is already there. Fired occurrences are ensured so the
// reconciliation scan can see them after a restart.
func (s *Store) EnsureDose(userID, medicationID string, scheduledAt time.Time) error {
	dose := &ScheduledDose{
		ID:           uuid.NewString(),
		UserID:       userID,
		MedicationID: medicationID,
		ScheduledAt:  occurrenceKey(scheduledAt),
		Status:       StatusScheduled,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: doseConflict.Columns,
		DoNothing: true,
	}).Create(dose).Error
}

// UpsertDose writes a dose status keyed by (userID, medicationID,
// scheduledAt). Exactly one row ever exists per natural key; a late "taken"
// after an auto-miss flips the same row, it never creates a second one.
// Last write wins across devices.
func (s *Store) UpsertDose(userID, medicationID string, scheduledAt time.Time, status DoseStatus, takenAt *time.Time, notes string) error {
	dose := &ScheduledDose{
		ID:           uuid.NewString(),
		UserID:       userID,
		MedicationID: medicationID,
		ScheduledAt:  occurrenceKey(scheduledAt),
		Status:       status,
		TakenAt:      takenAt,
		Notes:        notes,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	return s.db.Clauses(doseConflict).Create(dose).Error
}

// GetDose returns the row for one occurrence, nil when absent.
func (s *Store) GetDose(userID, medicationID string, scheduledAt time.Time) (*ScheduledDose, error) {
	var dose ScheduledDose
	err := s.db.
		Where("user_id = ? AND medication_id = ? AND scheduled_at = ?",
			userID, medicationID, occurrenceKey(scheduledAt)).
		First(&dose).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dose, nil
}

// QueryDoses returns dose history for a medication from a given instant,
// oldest first.
func (s *Store) QueryDoses(userID, medicationID string, from time.Time) ([]ScheduledDose, error) {
	var doses []ScheduledDose
	err := s.db.
		Where("user_id = ? AND medication_id = ? AND scheduled_at >= ?",
			userID, medicationID, from.UTC()).
		Order("scheduled_at ASC").
		Find(&doses).Error
	return doses, err
}

// TakenNear reports whether a dose was confirmed taken within tolerance of
// the scheduled instant. Backs the resolver's duplicate-reminder
// suppression.
func (s *Store) TakenNear(userID, medicationID string, scheduledAt time.Time, tolerance time.Duration) (bool, error) {
	key := occurrenceKey(scheduledAt)
	var count int64
	err := s.db.Model(&ScheduledDose{}).
		Where("user_id = ? AND medication_id = ? AND status = ?", userID, medicationID, StatusTaken).
		Where("scheduled_at >= ? AND scheduled_at <= ?", key.Add(-tolerance), key.Add(tolerance)).
		Count(&count).Error
	return count > 0, err
}

// ListElapsedScheduled returns doses still marked scheduled whose instant is
// at or before the cutoff. The reconciliation scan retroactively marks these
// missed after a restart or suspension.
func (s *Store) ListElapsedScheduled(cutoff time.Time) ([]ScheduledDose, error) {
	var doses []ScheduledDose
	err := s.db.
		Where("status = ? AND scheduled_at <= ?", StatusScheduled, cutoff.UTC()).
		Order("scheduled_at ASC").
		Find(&doses).Error
	return doses, err
}
