package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ListDrivers lists every driver profile.
func (ctl *Controller) ListDrivers(c *gin.Context) {
	drivers, err := ctl.Profiles.ListDrivers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers})
}

// DriverLocation returns the latest reading of any driver.
func (ctl *Controller) DriverLocation(c *gin.Context) {
	r, err := ctl.Poller.GetLatestLocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": r})
}

// DriverLocationStream streams the driver's readings as server-sent events
// until the client goes away.
func (ctl *Controller) DriverLocationStream(c *gin.Context) {
	driverID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := ctl.Profiles.DriverByID(ctx, driverID); err != nil {
		respondError(c, err)
		return
	}

	readings, err := ctl.Feed.Watch(ctx, driverID)
	if err != nil {
		respondError(c, err)
		return
	}

	logrus.WithField("driver_id", driverID).Info("Location stream opened")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case r, ok := <-readings:
			if !ok {
				return false
			}
			c.SSEvent("location", r)
			return true
		}
	})
	logrus.WithField("driver_id", driverID).Info("Location stream closed")
}

// DriverMap returns the GeoJSON map of any driver.
func (ctl *Controller) DriverMap(c *gin.Context) {
	ctl.renderMap(c, c.Param("id"), nil)
}
