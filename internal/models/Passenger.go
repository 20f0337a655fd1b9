package models

// Passenger is a rider profile with its chosen (driver, route, stop) assignment.
// The triple is validated by the passenger service: the stop belongs to the
// route and the route belongs to the driver.
type Passenger struct {
	Base
	AuthID         string `json:"auth_id" gorm:"uniqueIndex;size:64;not null"`
	Name           string `json:"name"`
	RegisterNumber string `json:"register_number"`
	DriverID       string `json:"driver_id" gorm:"index;size:36"`
	RouteID        string `json:"route_id" gorm:"size:36"`
	StopID         string `json:"stop_id" gorm:"size:36"`
}
