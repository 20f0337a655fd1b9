package routes

import (
	"github.com/gin-gonic/gin"

	"tracknow/internal/controllers"
	"tracknow/internal/middleware"
)

func DriverRoutes(r *gin.Engine, ctl *controllers.Controller, auth *middleware.Auth) {
	driver := r.Group("/driver")
	driver.Use(auth.RequireRole(middleware.RoleDriver))
	{
		driver.GET("/profile", ctl.GetDriverProfile)
		driver.PUT("/profile", ctl.SaveDriverProfile)
		driver.GET("/route", ctl.GetDriverRoute)
		driver.PUT("/route", ctl.SaveDriverRoute)
		driver.POST("/route/stops", ctl.AddStop)
		driver.DELETE("/route/stops/:id", ctl.DeleteStop)
		driver.PUT("/location", ctl.UpdateLocation)
		driver.GET("/messages", ctl.ListDriverMessages)
		driver.POST("/messages", ctl.PostDriverMessage)
	}
}
