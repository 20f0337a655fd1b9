// Package location publishes, stores and reads the current position of drivers.
package location

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tracknow/internal/apperr"
	"tracknow/internal/models"
)

// Sample is one position fix taken on the driver's device.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Sink accepts the latest sample for a driver. Applied is false when the
// stored position is already newer.
type Sink interface {
	Upsert(ctx context.Context, driverID string, s Sample) (applied bool, err error)
}

// Store keeps one current row per driver in driver_locations.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Upsert replaces the driver's location unless the stored row was recorded at
// or after s.RecordedAt. The comparison runs in the database so arrival order
// never decides which write is latest.
func (s *Store) Upsert(ctx context.Context, driverID string, sample Sample) (bool, error) {
	if driverID == "" {
		return false, apperr.Validation("driver id is required")
	}
	if !ValidCoordinate(sample.Latitude, sample.Longitude) {
		return false, apperr.Validation("latitude/longitude out of range")
	}

	now := s.now().UTC()
	recordedAt := sample.RecordedAt.UTC()
	if sample.RecordedAt.IsZero() {
		recordedAt = now
	}

	loc := models.DriverLocation{
		DriverID:   driverID,
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		Accuracy:   sample.Accuracy,
		Speed:      sample.Speed,
		Heading:    sample.Heading,
		RecordedAt: recordedAt,
		UpdatedAt:  now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "driver_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latitude", "longitude", "accuracy", "speed", "heading", "recorded_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("driver_locations.recorded_at < excluded.recorded_at"),
		}},
	}).Create(&loc)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "upsert driver location")
	}
	return res.RowsAffected > 0, nil
}

// Latest returns the stored location of driverID.
func (s *Store) Latest(ctx context.Context, driverID string) (models.DriverLocation, error) {
	var loc models.DriverLocation
	err := s.db.WithContext(ctx).Where("driver_id = ?", driverID).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DriverLocation{}, ErrNotAvailable
	}
	if err != nil {
		return models.DriverLocation{}, errors.Wrap(err, "load driver location")
	}
	return loc, nil
}
