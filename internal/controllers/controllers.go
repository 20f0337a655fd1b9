// Package controllers holds the gin handlers of the TrackNow API.
package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
	"tracknow/internal/geocode"
	"tracknow/internal/location"
	"tracknow/internal/messages"
	"tracknow/internal/middleware"
	"tracknow/internal/models"
	"tracknow/internal/profiles"
	"tracknow/internal/routequery"
	"tracknow/internal/stops"
)

// Controller carries the services every handler reaches into.
type Controller struct {
	Profiles *profiles.Service
	Routes   *routequery.Service
	Stops    *stops.Engine
	Geocoder geocode.Resolver
	Sink     location.Sink
	Poller   *location.Poller
	Feed     location.Feed
	Messages *messages.Service
}

// Health reports liveness.
func (ctl *Controller) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps err to its HTTP status and logs it: client mistakes at
// Warn, everything else at Error.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	entry := logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJSON decodes the body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// currentDriver loads the driver profile of the authenticated identity.
func (ctl *Controller) currentDriver(c *gin.Context) (models.Driver, bool) {
	d, err := ctl.Profiles.Driver(c.Request.Context(), middleware.AuthID(c))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			err = apperr.NotFound("save your driver details first")
		}
		respondError(c, err)
		return models.Driver{}, false
	}
	return d, true
}

// currentPassenger loads the passenger profile of the authenticated identity.
func (ctl *Controller) currentPassenger(c *gin.Context) (models.Passenger, bool) {
	p, err := ctl.Profiles.Passenger(c.Request.Context(), middleware.AuthID(c))
	if err != nil {
		respondError(c, err)
		return models.Passenger{}, false
	}
	return p, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(c, apperr.Validation("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
