package models

import "time"

// DriverLocation is the single current position of a driver. RecordedAt is the
// time the sample was taken and decides which of two writes is the latest.
type DriverLocation struct {
	DriverID   string    `json:"driver_id" gorm:"primaryKey;size:36"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"` // metres
	Speed      float64   `json:"speed"`    // m/s
	Heading    float64   `json:"heading"`  // degrees
	RecordedAt time.Time `json:"recorded_at" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at"`
}
