package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
	"tracknow/internal/location"
	"tracknow/internal/middleware"
	"tracknow/internal/profiles"
	"tracknow/internal/routequery"
)

// GetDriverProfile returns the caller's driver details.
func (ctl *Controller) GetDriverProfile(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver": d})
}

// SaveDriverProfile updates the caller's driver details, creating them on first save.
func (ctl *Controller) SaveDriverProfile(c *gin.Context) {
	var in profiles.DriverInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := ctl.Profiles.SaveDriver(c.Request.Context(), middleware.AuthID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver": d})
}

// GetDriverRoute returns the caller's route with its stops in order.
func (ctl *Controller) GetDriverRoute(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	rws, err := ctl.Routes.GetRouteWithStops(c.Request.Context(), d.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rws)
}

// SaveDriverRoute creates or renames the caller's route.
func (ctl *Controller) SaveDriverRoute(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	var in routequery.RouteInput
	if !bindJSON(c, &in) {
		return
	}
	route, err := ctl.Routes.SaveRoute(c.Request.Context(), d.ID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": route})
}

type addStopInput struct {
	Name  string `json:"stop_name"`
	Order int    `json:"order"`
}

// AddStop geocodes the stop name and inserts it at the requested position,
// shifting later stops up. Nothing is written when geocoding fails.
func (ctl *Controller) AddStop(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	var in addStopInput
	if !bindJSON(c, &in) {
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		respondError(c, apperr.Validation("stop name is required"))
		return
	}
	if in.Order < 1 {
		respondError(c, apperr.Validation("order must be a positive number"))
		return
	}

	ctx := c.Request.Context()
	route, err := ctl.Routes.RouteForDriver(ctx, d.ID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			err = apperr.NotFound("save the route first")
		}
		respondError(c, err)
		return
	}

	at, err := ctl.Geocoder.Resolve(ctx, in.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	stop, err := ctl.Stops.InsertStop(ctx, route.ID, in.Name, in.Order, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stop": stop})
}

// DeleteStop removes one of the caller's stops and closes the gap it leaves.
func (ctl *Controller) DeleteStop(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	route, err := ctl.Routes.RouteForDriver(ctx, d.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := ctl.Stops.DeleteStop(ctx, route.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// locationPayload is the body of PUT /driver/location. recorded_at accepts
// RFC3339 with or without a zone suffix; a missing suffix means UTC.
type locationPayload struct {
	location.Sample
}

func (p *locationPayload) UnmarshalJSON(data []byte) error {
	type alias location.Sample
	aux := &struct {
		RecordedAt string `json:"recorded_at"`
		*alias
	}{alias: (*alias)(&p.Sample)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.RecordedAt == "" {
		return nil
	}
	t, err := parseTimestamp(aux.RecordedAt)
	if err != nil {
		return err
	}
	p.RecordedAt = t
	return nil
}

func parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid recorded_at %q", ts)
	}
	return t.UTC(), nil
}

// UpdateLocation upserts the caller's current position. An older sample than
// the stored one is accepted but not applied.
func (ctl *Controller) UpdateLocation(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	var in locationPayload
	if !bindJSON(c, &in) {
		return
	}
	applied, err := ctl.Sink.Upsert(c.Request.Context(), d.ID, in.Sample)
	if err != nil {
		respondError(c, err)
		return
	}
	if !applied {
		logrus.WithField("driver_id", d.ID).Debug("Out of order location sample ignored")
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// ListDriverMessages returns the caller's own messages, newest first.
func (ctl *Controller) ListDriverMessages(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	list, err := ctl.Messages.List(c.Request.Context(), d.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

type postMessageInput struct {
	Message string `json:"message"`
}

// PostDriverMessage broadcasts a message to the caller's passengers.
func (ctl *Controller) PostDriverMessage(c *gin.Context) {
	d, ok := ctl.currentDriver(c)
	if !ok {
		return
	}
	var in postMessageInput
	if !bindJSON(c, &in) {
		return
	}
	msg, err := ctl.Messages.Post(c.Request.Context(), d.ID, in.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}
