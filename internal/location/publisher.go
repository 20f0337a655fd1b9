package location

import (
	"context"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
)

// PublisherConfig tunes sampling and write retries.
type PublisherConfig struct {
	MinInterval        time.Duration // elapsed time required since the last written sample
	MinDistance        float64       // metres moved required since the last written sample
	RetryAttempts      uint
	RetryBackoff       time.Duration
	StaleAfterFailures int // dropped samples in a row before reporting stale
}

// DefaultPublisherConfig matches the driver app: 5s and 10m between writes.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MinInterval:        5 * time.Second,
		MinDistance:        10,
		RetryAttempts:      3,
		RetryBackoff:       500 * time.Millisecond,
		StaleAfterFailures: 3,
	}
}

// PublishObserver is told about every qualifying sample's final result.
type PublishObserver interface {
	LocationPublished(ok bool)
}

// Status is a snapshot of the publisher.
type Status struct {
	Running             bool      `json:"running"`
	LastPublished       time.Time `json:"last_published"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Stale               bool      `json:"stale"`
	LastError           string    `json:"last_error,omitempty"`
}

// Publisher samples the sensor and upserts qualifying positions for one driver.
type Publisher struct {
	sensor   Sensor
	sink     Sink
	cfg      PublisherConfig
	observer PublishObserver

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
	last   *Sample
}

func NewPublisher(sensor Sensor, sink Sink, cfg PublisherConfig, observer PublishObserver) *Publisher {
	return &Publisher{sensor: sensor, sink: sink, cfg: cfg, observer: observer}
}

// Start asks for the location permission and begins the sampling loop. The
// sensor subscription lives until Stop is called or ctx is cancelled.
func (p *Publisher) Start(ctx context.Context, driverID string) error {
	if driverID == "" {
		return apperr.Validation("driver id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return apperr.Conflict("publisher already running")
	}

	if err := p.sensor.RequestPermission(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	samples, err := p.sensor.Watch(loopCtx)
	if err != nil {
		cancel()
		return err
	}

	p.cancel = cancel
	p.done = make(chan struct{})
	p.last = nil
	p.status = Status{Running: true}

	go p.run(loopCtx, cancel, p.done, driverID, samples)
	logrus.WithField("driver_id", driverID).Info("Location publishing started")
	return nil
}

// Stop cancels the loop and waits for the sensor to be released.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the sampling loop exits.
func (p *Publisher) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Publisher) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, driverID string, samples <-chan Sample) {
	defer func() {
		cancel()
		// Drain so the sensor goroutine can observe cancellation and close.
		for range samples {
		}
		p.mu.Lock()
		p.cancel = nil
		p.status.Running = false
		p.mu.Unlock()
		close(done)
		logrus.WithField("driver_id", driverID).Info("Location publishing stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if p.qualifies(s) {
				p.publish(ctx, driverID, s)
			}
		}
	}
}

// qualifies reports whether both the time and the distance threshold are met.
func (p *Publisher) qualifies(s Sample) bool {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last == nil {
		return true
	}
	if s.RecordedAt.Sub(last.RecordedAt) < p.cfg.MinInterval {
		return false
	}
	return Distance(last.Latitude, last.Longitude, s.Latitude, s.Longitude) >= p.cfg.MinDistance
}

func (p *Publisher) publish(ctx context.Context, driverID string, s Sample) {
	p.mu.Lock()
	if p.last != nil && s.Heading == 0 {
		s.Heading = Bearing(p.last.Latitude, p.last.Longitude, s.Latitude, s.Longitude)
	}
	p.mu.Unlock()

	attempts := p.cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	var lastErr error
	err := retry.Retry(
		func(uint) error {
			_, lastErr = p.sink.Upsert(ctx, driverID, s)
			return lastErr
		},
		strategy.Limit(attempts),
		func(uint) bool { return !permanent(lastErr) },
		func(attempt uint) bool { return attempt == 0 || ctx.Err() == nil },
		waitBackoff(ctx, backoff.BinaryExponential(p.cfg.RetryBackoff)),
	)
	if p.observer != nil {
		p.observer.LocationPublished(err == nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		sample := s
		p.last = &sample
		if p.status.Stale {
			logrus.WithField("driver_id", driverID).Info("Location publishing recovered")
		}
		p.status.LastPublished = s.RecordedAt
		p.status.ConsecutiveFailures = 0
		p.status.Stale = false
		p.status.LastError = ""
		return
	}

	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
	entry := logrus.WithError(err).WithFields(logrus.Fields{
		"driver_id": driverID,
		"failures":  p.status.ConsecutiveFailures,
	})
	if !p.status.Stale && p.cfg.StaleAfterFailures > 0 && p.status.ConsecutiveFailures >= p.cfg.StaleAfterFailures {
		p.status.Stale = true
		entry.Warn("Location publishing failing, viewers will see a stale position")
		return
	}
	entry.Debug("Location sample dropped after retries")
}

// permanent errors won't go away by resending the same sample.
func permanent(err error) bool {
	return apperr.Is(err, apperr.KindValidation) || apperr.Is(err, apperr.KindPermissionDenied)
}

// waitBackoff sleeps like strategy.Backoff but gives up when ctx is done.
func waitBackoff(ctx context.Context, algorithm backoff.Algorithm) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}
		t := time.NewTimer(algorithm(attempt))
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}
}
