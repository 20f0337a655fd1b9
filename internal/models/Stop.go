package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stop is a named, ordered, geolocated waypoint on a route.
// Order is 1-based and contiguous within a route.
type Stop struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	RouteID   string    `json:"route_id" gorm:"index:idx_stops_route_order,priority:1;size:36;not null"`
	Name      string    `json:"stop_name"`
	Order     int       `json:"order" gorm:"column:stop_order;index:idx_stops_route_order,priority:2"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Stop) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
