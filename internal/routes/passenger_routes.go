package routes

import (
	"github.com/gin-gonic/gin"

	"tracknow/internal/controllers"
	"tracknow/internal/middleware"
)

func PassengerRoutes(r *gin.Engine, ctl *controllers.Controller, auth *middleware.Auth) {
	passenger := r.Group("/passenger")
	passenger.Use(auth.RequireRole(middleware.RolePassenger))
	{
		passenger.GET("/buses", ctl.ListBuses)
		passenger.GET("/buses/:id/routes", ctl.BusRoutes)
		passenger.GET("/routes/:id/stops", ctl.RouteStops)
		passenger.GET("/profile", ctl.GetPassengerProfile)
		passenger.PUT("/profile", ctl.SavePassengerProfile)
		passenger.GET("/bus/location", ctl.BusLocation)
		passenger.GET("/bus/map", ctl.BusMap)
		passenger.GET("/messages", ctl.PassengerMessages)
	}
}
