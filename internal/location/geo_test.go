package location

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		expect                 float64
		delta                  float64
	}{
		{name: "same point", lat1: 13.08, lon1: 80.27, lat2: 13.08, lon2: 80.27, expect: 0, delta: 1e-6},
		{name: "one degree of latitude", lat1: 0, lon1: 0, lat2: 1, lon2: 0, expect: 111195, delta: 5},
		{name: "chennai central to egmore", lat1: 13.0827, lon1: 80.2757, lat2: 13.0780, lon2: 80.2609, expect: 1690, delta: 40},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expect, Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2), tc.delta)
		})
	}
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(0, 0, 1, 0), 1e-6)
	assert.InDelta(t, 90, Bearing(0, 0, 0, 1), 1e-6)
	assert.InDelta(t, 180, Bearing(1, 0, 0, 0), 1e-6)
	assert.InDelta(t, 270, Bearing(0, 1, 0, 0), 1e-6)
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(-90, 180))
	assert.False(t, ValidCoordinate(90.1, 0))
	assert.False(t, ValidCoordinate(0, -180.5))
	assert.False(t, ValidCoordinate(math.NaN(), 0))
}
