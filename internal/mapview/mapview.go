// Package mapview turns a passenger position, a bus reading and a route's
// stops into a GeoJSON FeatureCollection ready for a map client.
package mapview

import (
	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"

	"tracknow/internal/geocode"
	"tracknow/internal/location"
	"tracknow/internal/models"
)

// Feature kinds carried in the "kind" property.
const (
	KindPassenger = "passenger"
	KindBus       = "bus"
	KindStop      = "stop"
	KindRoute     = "route"
)

// Input is everything a map can show. Nil pointers are left off the map.
type Input struct {
	Passenger *geocode.LatLon
	Bus       *location.Reading
	BusNumber string
	RouteName string
	Stops     []models.Stop // sorted by order
}

// Compose builds the collection: passenger, bus, one point per stop and a
// line through the stops once there are at least two.
func Compose(in Input) *gjson.FeatureCollection {
	fc := &gjson.FeatureCollection{Features: []*gjson.Feature{}}

	if in.Passenger != nil {
		fc.Features = append(fc.Features, &gjson.Feature{
			ID:         KindPassenger,
			Geometry:   point(in.Passenger.Lat, in.Passenger.Lon),
			Properties: map[string]interface{}{"kind": KindPassenger, "name": "You"},
		})
	}

	if in.Bus != nil {
		fc.Features = append(fc.Features, &gjson.Feature{
			ID:       KindBus,
			Geometry: point(in.Bus.Latitude, in.Bus.Longitude),
			Properties: map[string]interface{}{
				"kind":        KindBus,
				"name":        in.BusNumber,
				"state":       string(in.Bus.State),
				"heading":     in.Bus.Heading,
				"recorded_at": in.Bus.RecordedAt,
			},
		})
	}

	coords := make([]float64, 0, 2*len(in.Stops))
	for _, s := range in.Stops {
		fc.Features = append(fc.Features, &gjson.Feature{
			ID:       s.ID,
			Geometry: point(s.Latitude, s.Longitude),
			Properties: map[string]interface{}{
				"kind":  KindStop,
				"name":  s.Name,
				"order": s.Order,
			},
		})
		coords = append(coords, s.Longitude, s.Latitude)
	}

	if len(in.Stops) >= 2 {
		fc.Features = append(fc.Features, &gjson.Feature{
			ID:         KindRoute,
			Geometry:   geom.NewLineStringFlat(geom.XY, coords),
			Properties: map[string]interface{}{"kind": KindRoute, "name": in.RouteName},
		})
	}
	return fc
}

// GeoJSON is longitude first.
func point(lat, lon float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat})
}
