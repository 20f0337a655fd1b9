// Package broadcast fans driver locations and messages out over NATS.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
	"tracknow/internal/location"
	"tracknow/internal/models"
)

// Broadcaster pushes stored state to live subscribers.
type Broadcaster interface {
	PublishLocation(loc models.DriverLocation) error
	PublishMessage(msg models.DriverMessage) error
}

// Metrics receives NATS connection and publish outcomes.
type Metrics interface {
	NATSPublished(ok bool)
	NATSSetConnected(connected bool)
}

// LocationSubject is the subject a driver's location updates are published on.
func LocationSubject(driverID string) string {
	return "locations." + subjectToken(driverID)
}

// MessageSubject is the subject a driver's messages are published on.
func MessageSubject(driverID string) string {
	return "messages." + subjectToken(driverID)
}

// Noop drops everything. It is used when NATS_URL is empty.
type Noop struct{}

func (Noop) PublishLocation(models.DriverLocation) error { return nil }
func (Noop) PublishMessage(models.DriverMessage) error   { return nil }

// NATS publishes JSON payloads on a shared connection.
type NATS struct {
	nc      *nats.Conn
	metrics Metrics
}

// Connect dials url and reports connection state changes to m (which may be nil).
func Connect(url string, m Metrics) (*NATS, error) {
	setConnected := func(v bool) {
		if m != nil {
			m.NATSSetConnected(v)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("tracknow-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logrus.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			logrus.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logrus.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	setConnected(true)
	return &NATS{nc: nc, metrics: m}, nil
}

// Conn exposes the connection for subscribers such as Feed.
func (n *NATS) Conn() *nats.Conn { return n.nc }

func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
		n.nc.Close()
	}
}

func (n *NATS) PublishLocation(loc models.DriverLocation) error {
	return n.publish(LocationSubject(loc.DriverID), loc)
}

func (n *NATS) PublishMessage(msg models.DriverMessage) error {
	return n.publish(MessageSubject(msg.DriverID), msg)
}

func (n *NATS) publish(subject string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode broadcast payload")
	}
	err = n.nc.Publish(subject, b)
	if n.metrics != nil {
		n.metrics.NATSPublished(err == nil)
	}
	if err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	logrus.WithField("subject", subject).Debug("Broadcast published")
	return nil
}

// subjectToken makes s safe to use as a single NATS subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// Store is the location store as seen by Sink.
type Store interface {
	location.Sink
	location.Reader
}

// Sink stores a sample and, when it was applied, broadcasts the new row.
// A broadcast failure is logged but never fails the write.
type Sink struct {
	store Store
	b     Broadcaster
}

func NewSink(store Store, b Broadcaster) *Sink {
	return &Sink{store: store, b: b}
}

func (s *Sink) Upsert(ctx context.Context, driverID string, sample location.Sample) (bool, error) {
	applied, err := s.store.Upsert(ctx, driverID, sample)
	if err != nil || !applied {
		return applied, err
	}
	loc, err := s.store.Latest(ctx, driverID)
	if err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Reload location for broadcast failed")
		return true, nil
	}
	if err := s.b.PublishLocation(loc); err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Location broadcast failed")
	}
	return true, nil
}

// Feed is a location.Feed driven by NATS pushes. It emits the stored reading
// first, then every pushed update, and re-classifies the last reading on
// recheck so that a silent driver turns stale.
type Feed struct {
	nc      *nats.Conn
	poller  *location.Poller
	recheck time.Duration
}

func NewFeed(nc *nats.Conn, poller *location.Poller, recheck time.Duration) *Feed {
	return &Feed{nc: nc, poller: poller, recheck: recheck}
}

func (f *Feed) Watch(ctx context.Context, driverID string) (<-chan location.Reading, error) {
	if driverID == "" {
		return nil, apperr.Validation("driver id is required")
	}
	msgs := make(chan *nats.Msg, 16)
	sub, err := f.nc.ChanSubscribe(LocationSubject(driverID), msgs)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to location updates")
	}

	out := make(chan location.Reading, 1)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		var last *models.DriverLocation
		var lastState location.State
		emit := func(loc models.DriverLocation) bool {
			r := f.poller.Classify(loc)
			if last != nil && r.RecordedAt.Equal(last.RecordedAt) && r.State == lastState {
				return true
			}
			select {
			case out <- r:
				last, lastState = &loc, r.State
				return true
			case <-ctx.Done():
				return false
			}
		}

		if r, err := f.poller.GetLatestLocation(ctx, driverID); err == nil {
			if !emit(readingToLocation(r)) {
				return
			}
		}

		ticker := time.NewTicker(f.recheck)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				var loc models.DriverLocation
				if err := json.Unmarshal(m.Data, &loc); err != nil {
					logrus.WithError(err).WithField("subject", m.Subject).Warn("Dropping malformed location update")
					continue
				}
				// Pushes can arrive out of order; never step back in time.
				if last != nil && !loc.RecordedAt.After(last.RecordedAt) {
					continue
				}
				if !emit(loc) {
					return
				}
			case <-ticker.C:
				if last != nil && !emit(*last) {
					return
				}
			}
		}
	}()
	return out, nil
}

func readingToLocation(r location.Reading) models.DriverLocation {
	return models.DriverLocation{
		DriverID:   r.DriverID,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Accuracy:   r.Accuracy,
		Speed:      r.Speed,
		Heading:    r.Heading,
		RecordedAt: r.RecordedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
