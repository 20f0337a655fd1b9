// Package routequery serves the composed route reads used by drivers and
// passengers, cached per driver and invalidated when a route or its stops change.
package routequery

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tracknow/internal/apperr"
	"tracknow/internal/cache"
	"tracknow/internal/models"
	"tracknow/internal/stops"
)

// RouteWithStops is a route and its stops sorted by order.
type RouteWithStops struct {
	Route models.Route  `json:"route"`
	Stops []models.Stop `json:"stops"`
}

// RouteInput is the editable part of a route.
type RouteInput struct {
	Name       string `json:"route_name"`
	StartLabel string `json:"start_point"`
	EndLabel   string `json:"end_point"`
}

// CacheObserver counts cache hits and misses.
type CacheObserver interface {
	CacheLookup(hit bool)
}

type Service struct {
	db       *gorm.DB
	engine   *stops.Engine
	cache    cache.Cache
	ttl      time.Duration
	observer CacheObserver

	// gen counts invalidations per driver. A reader only writes its result
	// back when no invalidation happened since it started reading.
	mu  sync.Mutex
	gen map[string]uint64
}

// NewService wires the query layer and subscribes it to stop changes on engine.
func NewService(db *gorm.DB, engine *stops.Engine, c cache.Cache, ttl time.Duration, observer CacheObserver) *Service {
	s := &Service{db: db, engine: engine, cache: c, ttl: ttl, observer: observer, gen: make(map[string]uint64)}
	engine.OnChange(func(ctx context.Context, route models.Route) {
		s.Invalidate(ctx, route.DriverID)
	})
	return s
}

func cacheKey(driverID string) string { return "route:" + driverID }

// GetRouteWithStops returns NotFound when the driver has no route. A route
// without stops comes back with an empty, non-nil Stops.
func (s *Service) GetRouteWithStops(ctx context.Context, driverID string) (RouteWithStops, error) {
	if driverID == "" {
		return RouteWithStops{}, apperr.Validation("driver id is required")
	}

	if b, ok, err := s.cache.Get(ctx, cacheKey(driverID)); err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Route cache read failed")
	} else if ok {
		var cached RouteWithStops
		if err := json.Unmarshal(b, &cached); err == nil {
			s.observe(true)
			return cached, nil
		}
	}
	s.observe(false)
	gen := s.generation(driverID)

	route, err := s.RouteForDriver(ctx, driverID)
	if err != nil {
		return RouteWithStops{}, err
	}
	list, err := s.engine.ListStops(ctx, route.ID)
	if err != nil {
		return RouteWithStops{}, err
	}
	out := RouteWithStops{Route: route, Stops: list}

	if b, err := json.Marshal(out); err == nil {
		s.storeIfCurrent(ctx, driverID, gen, b)
	}
	return out, nil
}

func (s *Service) generation(driverID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[driverID]
}

// storeIfCurrent caches b unless driverID was invalidated after gen was read.
// The lock is held across Set so an Invalidate either sees the entry and
// deletes it or bumps the generation first.
func (s *Service) storeIfCurrent(ctx context.Context, driverID string, gen uint64, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[driverID] != gen {
		logrus.WithField("driver_id", driverID).Debug("Route changed during read, not caching")
		return
	}
	if err := s.cache.Set(ctx, cacheKey(driverID), b, s.ttl); err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Route cache write failed")
	}
}

// RouteForDriver loads the driver's route row without stops.
func (s *Service) RouteForDriver(ctx context.Context, driverID string) (models.Route, error) {
	var route models.Route
	err := s.db.WithContext(ctx).Where("driver_id = ?", driverID).First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Route{}, apperr.NotFound("route not found")
	}
	if err != nil {
		return models.Route{}, errors.Wrap(err, "load route")
	}
	return route, nil
}

// SaveRoute creates the driver's route or updates its labels.
func (s *Service) SaveRoute(ctx context.Context, driverID string, in RouteInput) (models.Route, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.StartLabel = strings.TrimSpace(in.StartLabel)
	in.EndLabel = strings.TrimSpace(in.EndLabel)
	if driverID == "" {
		return models.Route{}, apperr.Validation("driver id is required")
	}
	if in.Name == "" || in.StartLabel == "" || in.EndLabel == "" {
		return models.Route{}, apperr.Validation("route name, start point and end point are required")
	}

	var route models.Route
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("driver_id = ?", driverID).First(&route).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			route = models.Route{DriverID: driverID}
		case err != nil:
			return errors.Wrap(err, "load route")
		}
		route.Name, route.StartLabel, route.EndLabel = in.Name, in.StartLabel, in.EndLabel
		return errors.Wrap(tx.Save(&route).Error, "save route")
	})
	if err != nil {
		return models.Route{}, err
	}

	s.Invalidate(ctx, driverID)
	logrus.WithFields(logrus.Fields{"driver_id": driverID, "route_id": route.ID}).Info("Route saved")
	return route, nil
}

// Invalidate drops the cached composed route of driverID.
func (s *Service) Invalidate(ctx context.Context, driverID string) {
	s.mu.Lock()
	s.gen[driverID]++
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, cacheKey(driverID)); err != nil {
		logrus.WithError(err).WithField("driver_id", driverID).Warn("Route cache invalidation failed")
	}
}

// ListBuses returns every driver ordered by bus number.
func (s *Service) ListBuses(ctx context.Context) ([]models.Driver, error) {
	drivers := []models.Driver{}
	err := s.db.WithContext(ctx).Order("bus_number ASC").Order("id ASC").Find(&drivers).Error
	return drivers, errors.Wrap(err, "list buses")
}

// RoutesForDriver lists the routes operated by driverID (at most one today).
func (s *Service) RoutesForDriver(ctx context.Context, driverID string) ([]models.Route, error) {
	routes := []models.Route{}
	err := s.db.WithContext(ctx).Where("driver_id = ?", driverID).Order("name ASC").Find(&routes).Error
	return routes, errors.Wrap(err, "list routes")
}

// StopsForRoute lists a route's stops in order. Unknown routes give an empty list.
func (s *Service) StopsForRoute(ctx context.Context, routeID string) ([]models.Stop, error) {
	return s.engine.ListStops(ctx, routeID)
}

func (s *Service) observe(hit bool) {
	if s.observer != nil {
		s.observer.CacheLookup(hit)
	}
}
