package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tracknow/internal/apperr"
	"tracknow/internal/geocode"
	"tracknow/internal/location"
	"tracknow/internal/mapview"
	"tracknow/internal/middleware"
	"tracknow/internal/models"
	"tracknow/internal/profiles"
)

// ListBuses lists every bus passengers can pick, ordered by bus number.
func (ctl *Controller) ListBuses(c *gin.Context) {
	buses, err := ctl.Routes.ListBuses(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buses": buses})
}

// BusRoutes lists the routes of the bus (driver) in the path.
func (ctl *Controller) BusRoutes(c *gin.Context) {
	routes, err := ctl.Routes.RoutesForDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

// RouteStops lists the stops of the route in the path, in order.
func (ctl *Controller) RouteStops(c *gin.Context) {
	list, err := ctl.Routes.StopsForRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stops": list})
}

func (ctl *Controller) GetPassengerProfile(c *gin.Context) {
	p, ok := ctl.currentPassenger(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"passenger": p})
}

// SavePassengerProfile stores the caller's details and bus/route/stop choice.
func (ctl *Controller) SavePassengerProfile(c *gin.Context) {
	var in profiles.PassengerInput
	if !bindJSON(c, &in) {
		return
	}
	p, err := ctl.Profiles.SavePassenger(c.Request.Context(), middleware.AuthID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"passenger": p})
}

// BusLocation returns the latest reading of the caller's assigned bus.
func (ctl *Controller) BusLocation(c *gin.Context) {
	p, ok := ctl.currentPassenger(c)
	if !ok {
		return
	}
	r, err := ctl.Poller.GetLatestLocation(c.Request.Context(), p.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": r})
}

// BusMap returns a GeoJSON map of the caller's bus, its route and, when lat
// and lon are given, the caller's own position.
func (ctl *Controller) BusMap(c *gin.Context) {
	p, ok := ctl.currentPassenger(c)
	if !ok {
		return
	}
	self, ok := queryPosition(c)
	if !ok {
		return
	}
	ctl.renderMap(c, p.DriverID, self)
}

// PassengerMessages returns the assigned driver's messages, newest first.
func (ctl *Controller) PassengerMessages(c *gin.Context) {
	p, ok := ctl.currentPassenger(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	list, err := ctl.Messages.List(c.Request.Context(), p.DriverID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

// queryPosition reads the optional lat/lon query pair.
func queryPosition(c *gin.Context) (*geocode.LatLon, bool) {
	rawLat, rawLon := c.Query("lat"), c.Query("lon")
	if rawLat == "" && rawLon == "" {
		return nil, true
	}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lon, errLon := strconv.ParseFloat(rawLon, 64)
	if errLat != nil || errLon != nil || !location.ValidCoordinate(lat, lon) {
		respondError(c, apperr.Validation("lat and lon must be valid coordinates"))
		return nil, false
	}
	return &geocode.LatLon{Lat: lat, Lon: lon}, true
}

// renderMap composes the map of driverID. A driver that has not published a
// location or has no route yet still gets a map with what is known.
func (ctl *Controller) renderMap(c *gin.Context, driverID string, self *geocode.LatLon) {
	ctx := c.Request.Context()
	d, err := ctl.Profiles.DriverByID(ctx, driverID)
	if err != nil {
		respondError(c, err)
		return
	}
	in := mapview.Input{Passenger: self, BusNumber: d.BusNumber, Stops: []models.Stop{}}

	r, err := ctl.Poller.GetLatestLocation(ctx, driverID)
	switch {
	case err == nil:
		in.Bus = &r
	case !apperr.Is(err, apperr.KindNotFound):
		respondError(c, err)
		return
	}

	rws, err := ctl.Routes.GetRouteWithStops(ctx, driverID)
	switch {
	case err == nil:
		in.RouteName, in.Stops = rws.Route.Name, rws.Stops
	case !apperr.Is(err, apperr.KindNotFound):
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, mapview.Compose(in))
}
