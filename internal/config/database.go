package config

import (
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tracknow/internal/logger"
	"tracknow/internal/models"
)

// OpenDB connects to PostgreSQL and migrates the schema.
func OpenDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.NewGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema for every model.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Driver{},
		&models.Route{},
		&models.Stop{},
		&models.Passenger{},
		&models.DriverLocation{},
		&models.DriverMessage{},
	)
	return errors.Wrap(err, "auto-migration failed")
}
