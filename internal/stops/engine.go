// Package stops maintains the ordered stop sequence of each route.
//
// Every mutation runs as one transaction that locks the route, so the shift
// of existing stops and the insert of the new one commit together. After any
// completed insert or delete a route's orders are exactly 1..N.
package stops

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tracknow/internal/apperr"
	"tracknow/internal/geocode"
	"tracknow/internal/models"
)

// ChangeFunc is called after a committed mutation of a route's stops.
type ChangeFunc func(ctx context.Context, route models.Route)

type Engine struct {
	db       *gorm.DB
	inflight inflightGuard
	onChange []ChangeFunc
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db, inflight: inflightGuard{busy: make(map[string]struct{})}}
}

// OnChange registers fn to run after every committed stop mutation.
func (e *Engine) OnChange(fn ChangeFunc) {
	e.onChange = append(e.onChange, fn)
}

// InsertStop places a new stop at order, shifting every stop at or above it
// up by one. An order past the end is clamped to N+1.
func (e *Engine) InsertStop(ctx context.Context, routeID, name string, order int, at geocode.LatLon) (models.Stop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Stop{}, apperr.Validation("stop name is required")
	}
	if order < 1 {
		return models.Stop{}, apperr.Validation("order must be a positive number")
	}

	release, ok := e.inflight.acquire(routeID)
	if !ok {
		return models.Stop{}, apperr.Conflict("another stop change for this route is in progress")
	}
	defer release()

	var (
		route models.Route
		stop  models.Stop
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if route, err = lockRoute(tx, routeID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Stop{}).Where("route_id = ?", routeID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "count stops")
		}
		if order > int(count)+1 {
			order = int(count) + 1
		}

		// Make room at order before the insert.
		if err := tx.Model(&models.Stop{}).
			Where("route_id = ? AND stop_order >= ?", routeID, order).
			UpdateColumn("stop_order", gorm.Expr("stop_order + ?", 1)).Error; err != nil {
			return errors.Wrap(err, "shift stop orders")
		}

		stop = models.Stop{
			RouteID:   routeID,
			Name:      name,
			Order:     order,
			Latitude:  at.Lat,
			Longitude: at.Lon,
		}
		return errors.Wrap(tx.Create(&stop).Error, "insert stop")
	})
	if err != nil {
		return models.Stop{}, err
	}

	logrus.WithFields(logrus.Fields{
		"route_id": routeID,
		"stop_id":  stop.ID,
		"order":    stop.Order,
	}).Info("Stop inserted")
	e.changed(ctx, route)
	return stop, nil
}

// DeleteStop removes a stop from the route and closes the gap it leaves.
func (e *Engine) DeleteStop(ctx context.Context, routeID, stopID string) error {
	release, ok := e.inflight.acquire(routeID)
	if !ok {
		return apperr.Conflict("another stop change for this route is in progress")
	}
	defer release()

	var route models.Route
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if route, err = lockRoute(tx, routeID); err != nil {
			return err
		}

		var stop models.Stop
		if err := tx.Where("id = ? AND route_id = ?", stopID, routeID).First(&stop).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("stop not found")
			}
			return errors.Wrap(err, "load stop")
		}
		if err := tx.Delete(&stop).Error; err != nil {
			return errors.Wrap(err, "delete stop")
		}
		return errors.Wrap(tx.Model(&models.Stop{}).
			Where("route_id = ? AND stop_order > ?", routeID, stop.Order).
			UpdateColumn("stop_order", gorm.Expr("stop_order - ?", 1)).Error, "close order gap")
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"route_id": routeID, "stop_id": stopID}).Info("Stop deleted")
	e.changed(ctx, route)
	return nil
}

// ListStops returns the route's stops ascending by order, ties newest last.
// A non-contiguous sequence left by older writers is re-packed before returning.
func (e *Engine) ListStops(ctx context.Context, routeID string) ([]models.Stop, error) {
	stops, err := findOrdered(e.db.WithContext(ctx), routeID)
	if err != nil {
		return nil, err
	}
	if contiguous(stops) {
		return stops, nil
	}

	logrus.WithField("route_id", routeID).Warn("Stop orders not contiguous, re-packing")
	return e.Repack(ctx, routeID)
}

// Repack renumbers the route's stops to 1..N in list order.
func (e *Engine) Repack(ctx context.Context, routeID string) ([]models.Stop, error) {
	var (
		route   models.Route
		stops   []models.Stop
		changed bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if route, err = lockRoute(tx, routeID); err != nil {
			return err
		}
		if stops, err = findOrdered(tx, routeID); err != nil {
			return err
		}
		for i := range stops {
			want := i + 1
			if stops[i].Order == want {
				continue
			}
			if err := tx.Model(&models.Stop{}).Where("id = ?", stops[i].ID).
				UpdateColumn("stop_order", want).Error; err != nil {
				return errors.Wrap(err, "repack stop")
			}
			stops[i].Order = want
			changed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.changed(ctx, route)
	}
	return stops, nil
}

func (e *Engine) changed(ctx context.Context, route models.Route) {
	for _, fn := range e.onChange {
		fn(ctx, route)
	}
}

// lockRoute loads the route, holding a row lock for the transaction where the
// dialect supports it.
func lockRoute(tx *gorm.DB, routeID string) (models.Route, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var route models.Route
	if err := q.Where("id = ?", routeID).First(&route).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Route{}, apperr.NotFound("route not found")
		}
		return models.Route{}, errors.Wrap(err, "load route")
	}
	return route, nil
}

func findOrdered(db *gorm.DB, routeID string) ([]models.Stop, error) {
	stops := []models.Stop{}
	err := db.Where("route_id = ?", routeID).
		Order("stop_order ASC").Order("created_at ASC").Order("id ASC").
		Find(&stops).Error
	if err != nil {
		return nil, errors.Wrap(err, "list stops")
	}
	return stops, nil
}

func contiguous(stops []models.Stop) bool {
	for i, s := range stops {
		if s.Order != i+1 {
			return false
		}
	}
	return true
}

// inflightGuard admits one mutation per route at a time.
type inflightGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func (g *inflightGuard) acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.busy[key]; held {
		return nil, false
	}
	g.busy[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.busy, key)
		g.mu.Unlock()
	}, true
}
