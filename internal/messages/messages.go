// Package messages stores the notes a driver broadcasts to their passengers.
package messages

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tracknow/internal/apperr"
	"tracknow/internal/broadcast"
	"tracknow/internal/models"
)

const (
	MaxBodyRunes = 500
	DefaultLimit = 50
	MaxLimit     = 200
)

type Service struct {
	db *gorm.DB
	b  broadcast.Broadcaster
}

func NewService(db *gorm.DB, b broadcast.Broadcaster) *Service {
	return &Service{db: db, b: b}
}

// Post appends a message and pushes it to live subscribers.
func (s *Service) Post(ctx context.Context, driverID, body string) (models.DriverMessage, error) {
	body = strings.TrimSpace(body)
	switch {
	case driverID == "":
		return models.DriverMessage{}, apperr.Validation("driver id is required")
	case body == "":
		return models.DriverMessage{}, apperr.Validation("message cannot be empty")
	case utf8.RuneCountInString(body) > MaxBodyRunes:
		return models.DriverMessage{}, apperr.Validation("message is longer than %d characters", MaxBodyRunes)
	}

	msg := models.DriverMessage{DriverID: driverID, Body: body}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.DriverMessage{}, errors.Wrap(err, "save message")
	}
	if err := s.b.PublishMessage(msg); err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Message broadcast failed")
	}
	return msg, nil
}

// List returns up to limit messages of driverID, newest first.
func (s *Service) List(ctx context.Context, driverID string, limit int) ([]models.DriverMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	out := []models.DriverMessage{}
	err := s.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "list messages")
}
