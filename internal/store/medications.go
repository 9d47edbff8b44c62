package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateMedication(med *Medication) error {
	if med.ID == "" {
		med.ID = uuid.NewString()
	}
	med.CreatedAt = time.Now()
	med.UpdatedAt = time.Now()
	return s.db.Create(med).Error
}

func (s *Store) GetMedication(id string) (*Medication, error) {
	var med Medication
	err := s.db.Where("id = ?", id).First(&med).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

func (s *Store) UpdateMedication(med *Medication) error {
	med.UpdatedAt = time.Now()
	return s.db.Save(med).Error
}

func (s *Store) ListMedications(userID string, activeOnly bool) ([]Medication, error) {
	query := s.db.Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var meds []Medication
	err := query.Order("created_at DESC").Find(&meds).Error
	return meds, err
}

func (s *Store) DeleteMedication(id string) error {
	return s.db.Where("id = ?", id).Delete(&Medication{}).Error
}
