package location

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
)

// Feed streams a driver's readings until ctx is cancelled. The channel is
// closed when the feed stops. Implementations may poll or receive pushes.
type Feed interface {
	Watch(ctx context.Context, driverID string) (<-chan Reading, error)
}

// PollingFeed re-reads the latest location on a fixed interval and emits a
// reading whenever its position timestamp or state changes.
type PollingFeed struct {
	poller   *Poller
	interval time.Duration
}

func NewPollingFeed(poller *Poller, interval time.Duration) *PollingFeed {
	return &PollingFeed{poller: poller, interval: interval}
}

func (f *PollingFeed) Watch(ctx context.Context, driverID string) (<-chan Reading, error) {
	if driverID == "" {
		return nil, apperr.Validation("driver id is required")
	}
	out := make(chan Reading, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		var last Reading
		for {
			r, err := f.poller.GetLatestLocation(ctx, driverID)
			switch {
			case err == nil:
				if !r.RecordedAt.Equal(last.RecordedAt) || r.State != last.State {
					select {
					case out <- r:
						last = r
					case <-ctx.Done():
						return
					}
				}
			case apperr.Is(err, apperr.KindNotFound):
			case ctx.Err() == nil:
				logrus.WithError(err).WithField("driver_id", driverID).Warn("Location poll failed")
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}
