package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DriverMessage is an append-only note broadcast to a driver's passengers.
type DriverMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	DriverID  string    `json:"driver_id" gorm:"index;size:36;not null"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (m *DriverMessage) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
