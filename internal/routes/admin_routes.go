package routes

import (
	"github.com/gin-gonic/gin"

	"tracknow/internal/controllers"
	"tracknow/internal/middleware"
)

func AdminRoutes(r *gin.Engine, ctl *controllers.Controller, auth *middleware.Auth) {
	admin := r.Group("/admin")
	admin.Use(auth.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/drivers", ctl.ListDrivers)
		admin.GET("/drivers/:id/location", ctl.DriverLocation)
		admin.GET("/drivers/:id/location/stream", ctl.DriverLocationStream)
		admin.GET("/drivers/:id/map", ctl.DriverMap)
	}
}
