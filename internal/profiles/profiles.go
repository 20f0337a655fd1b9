// Package profiles keeps driver and passenger profiles keyed by identity subject.
package profiles

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tracknow/internal/apperr"
	"tracknow/internal/models"
)

// DriverInput is the editable part of a driver profile.
type DriverInput struct {
	Name      string `json:"name"`
	BusNumber string `json:"bus_number"`
	Phone     string `json:"phone_number"`
}

// PassengerInput is the editable part of a passenger profile and its assignment.
type PassengerInput struct {
	Name           string `json:"name"`
	RegisterNumber string `json:"register_number"`
	DriverID       string `json:"driver_id"`
	RouteID        string `json:"route_id"`
	StopID         string `json:"stop_id"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Driver returns the profile of authID.
func (s *Service) Driver(ctx context.Context, authID string) (models.Driver, error) {
	var d models.Driver
	err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Driver{}, apperr.NotFound("driver profile not found")
	}
	return d, errors.Wrap(err, "load driver profile")
}

// DriverByID returns the driver with the given row id.
func (s *Service) DriverByID(ctx context.Context, id string) (models.Driver, error) {
	var d models.Driver
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Driver{}, apperr.NotFound("driver not found")
	}
	return d, errors.Wrap(err, "load driver")
}

// SaveDriver updates the profile of authID or creates it.
func (s *Service) SaveDriver(ctx context.Context, authID string, in DriverInput) (models.Driver, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.BusNumber = strings.TrimSpace(in.BusNumber)
	in.Phone = strings.TrimSpace(in.Phone)
	if authID == "" {
		return models.Driver{}, apperr.Validation("identity is required")
	}
	if in.Name == "" || in.BusNumber == "" || in.Phone == "" {
		return models.Driver{}, apperr.Validation("name, bus number and phone number are required")
	}

	var d models.Driver
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("auth_id = ?", authID).First(&d).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			d = models.Driver{AuthID: authID}
		case err != nil:
			return errors.Wrap(err, "load driver profile")
		}
		d.Name, d.BusNumber, d.Phone = in.Name, in.BusNumber, in.Phone
		return errors.Wrap(tx.Save(&d).Error, "save driver profile")
	})
	if err != nil {
		return models.Driver{}, err
	}
	logrus.WithFields(logrus.Fields{"driver_id": d.ID, "bus_number": d.BusNumber}).Info("Driver profile saved")
	return d, nil
}

// ListDrivers returns every driver ordered by name.
func (s *Service) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	drivers := []models.Driver{}
	err := s.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&drivers).Error
	return drivers, errors.Wrap(err, "list drivers")
}

// Passenger returns the profile of authID.
func (s *Service) Passenger(ctx context.Context, authID string) (models.Passenger, error) {
	var p models.Passenger
	err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Passenger{}, apperr.NotFound("passenger profile not found")
	}
	return p, errors.Wrap(err, "load passenger profile")
}

// SavePassenger updates or creates the profile of authID. The assignment must
// name a stop on a route operated by the named driver.
func (s *Service) SavePassenger(ctx context.Context, authID string, in PassengerInput) (models.Passenger, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.RegisterNumber = strings.TrimSpace(in.RegisterNumber)
	if authID == "" {
		return models.Passenger{}, apperr.Validation("identity is required")
	}
	if in.Name == "" || in.RegisterNumber == "" {
		return models.Passenger{}, apperr.Validation("name and register number are required")
	}

	var p models.Passenger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateAssignment(tx, in); err != nil {
			return err
		}
		err := tx.Where("auth_id = ?", authID).First(&p).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = models.Passenger{AuthID: authID}
		case err != nil:
			return errors.Wrap(err, "load passenger profile")
		}
		p.Name, p.RegisterNumber = in.Name, in.RegisterNumber
		p.DriverID, p.RouteID, p.StopID = in.DriverID, in.RouteID, in.StopID
		return errors.Wrap(tx.Save(&p).Error, "save passenger profile")
	})
	if err != nil {
		return models.Passenger{}, err
	}
	logrus.WithFields(logrus.Fields{"passenger_id": p.ID, "driver_id": p.DriverID}).Info("Passenger profile saved")
	return p, nil
}

// validateAssignment checks stop ∈ route ∈ driver.
func validateAssignment(tx *gorm.DB, in PassengerInput) error {
	if in.DriverID == "" || in.RouteID == "" || in.StopID == "" {
		return apperr.Validation("bus, route and stop must all be selected")
	}

	var n int64
	err := tx.Model(&models.Stop{}).
		Joins("JOIN routes ON routes.id = stops.route_id").
		Where("stops.id = ? AND routes.id = ? AND routes.driver_id = ?", in.StopID, in.RouteID, in.DriverID).
		Count(&n).Error
	if err != nil {
		return errors.Wrap(err, "validate assignment")
	}
	if n == 0 {
		return apperr.Validation("stop does not belong to the selected route and bus")
	}
	return nil
}
