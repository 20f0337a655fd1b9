package models

// Route is the single ordered path a driver operates.
// Stops are loaded separately through the ordering engine.
type Route struct {
	Base
	DriverID   string `json:"driver_id" gorm:"uniqueIndex;size:36;not null"`
	Name       string `json:"route_name"`
	StartLabel string `json:"start_point"`
	EndLabel   string `json:"end_point"`

	Stops []Stop `json:"stops,omitempty" gorm:"foreignKey:RouteID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
