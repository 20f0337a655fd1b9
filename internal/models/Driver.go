package models

// Driver is the profile behind a driver identity. One row per auth id.
type Driver struct {
	Base
	AuthID    string `json:"auth_id" gorm:"uniqueIndex;size:64;not null"` // subject from the identity provider
	Name      string `json:"name"`
	BusNumber string `json:"bus_number" gorm:"index"`
	Phone     string `json:"phone_number"`
}
