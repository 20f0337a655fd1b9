package location

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tracknow/internal/apperr"
)

// Sensor is the device position source. Watch delivers samples until ctx is
// cancelled and then closes the channel, releasing the subscription.
type Sensor interface {
	RequestPermission(ctx context.Context) error
	Watch(ctx context.Context) (<-chan Sample, error)
}

// ReplaySensor plays back a recorded track, one point per interval, stamping
// each sample with the clock time it is emitted.
type ReplaySensor struct {
	Points   []Sample
	Interval time.Duration
	Loop     bool
	Denied   bool // simulates the user refusing the location permission
	Now      func() time.Time
}

func (r *ReplaySensor) RequestPermission(context.Context) error {
	if r.Denied {
		return apperr.PermissionDenied("location permission denied")
	}
	return nil
}

func (r *ReplaySensor) Watch(ctx context.Context) (<-chan Sample, error) {
	if r.Denied {
		return nil, apperr.PermissionDenied("location permission denied")
	}
	if len(r.Points) == 0 {
		return nil, apperr.Validation("track has no points")
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			if i == len(r.Points) {
				if !r.Loop {
					return
				}
				i = 0
			}
			s := r.Points[i]
			s.RecordedAt = now()
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ParseTrack reads "lat,lon" lines. Blank lines and lines starting with # are skipped.
func ParseTrack(r io.Reader) ([]Sample, error) {
	var points []Sample
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("line %d: want lat,lon", n)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", n, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", n, err)
		}
		if !ValidCoordinate(lat, lon) {
			return nil, fmt.Errorf("line %d: coordinate out of range", n)
		}
		points = append(points, Sample{Latitude: lat, Longitude: lon})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return points, nil
}
