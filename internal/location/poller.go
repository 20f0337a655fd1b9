package location

import (
	"context"
	"time"

	"tracknow/internal/apperr"
	"tracknow/internal/models"
)

// ErrNotAvailable means the driver has never published a location.
var ErrNotAvailable = apperr.NotFound("no location available")

// State tells viewers whether a reading can be trusted as current.
type State string

const (
	StateFresh State = "fresh"
	StateStale State = "stale"
)

// Reading is a driver's latest location with its freshness.
type Reading struct {
	DriverID   string    `json:"driver_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	RecordedAt time.Time `json:"recorded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	State      State     `json:"state"`
}

// Reader gives the stored location of a driver.
type Reader interface {
	Latest(ctx context.Context, driverID string) (models.DriverLocation, error)
}

// PollObserver counts reads by result ("fresh", "stale", "not_available", "error").
type PollObserver interface {
	LocationPolled(result string)
}

// Poller reads a driver's latest location on demand.
type Poller struct {
	reader     Reader
	staleAfter time.Duration
	observer   PollObserver
	now        func() time.Time
}

func NewPoller(reader Reader, staleAfter time.Duration, observer PollObserver) *Poller {
	return &Poller{reader: reader, staleAfter: staleAfter, observer: observer, now: time.Now}
}

// GetLatestLocation returns ErrNotAvailable when nothing was ever published.
func (p *Poller) GetLatestLocation(ctx context.Context, driverID string) (Reading, error) {
	loc, err := p.reader.Latest(ctx, driverID)
	if err != nil {
		p.observe(pollResult(err))
		return Reading{}, err
	}
	r := p.Classify(loc)
	p.observe(string(r.State))
	return r, nil
}

// Classify converts a stored location into a Reading stamped with its state.
func (p *Poller) Classify(loc models.DriverLocation) Reading {
	state := StateFresh
	if p.now().Sub(loc.RecordedAt) > p.staleAfter {
		state = StateStale
	}
	return Reading{
		DriverID:   loc.DriverID,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Accuracy:   loc.Accuracy,
		Speed:      loc.Speed,
		Heading:    loc.Heading,
		RecordedAt: loc.RecordedAt,
		UpdatedAt:  loc.UpdatedAt,
		State:      state,
	}
}

func (p *Poller) observe(result string) {
	if p.observer != nil {
		p.observer.LocationPolled(result)
	}
}

func pollResult(err error) string {
	if apperr.Is(err, apperr.KindNotFound) {
		return "not_available"
	}
	return "error"
}
