package routes

import (
	ginlogger "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracknow/internal/controllers"
	"tracknow/internal/metrics"
	"tracknow/internal/middleware"
)

// Options carries what the router needs from main.
type Options struct {
	Controller  *controllers.Controller
	Auth        *middleware.Auth
	Metrics     *metrics.Collector
	CORSOrigins []string
}

func SetupRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(
		ginlogger.SetLogger(
			ginlogger.WithWriter(logrus.StandardLogger().Out),
			ginlogger.WithUTC(true),
			ginlogger.WithSkipPath([]string{"/metrics", "/healthz"}),
		),
		gin.Recovery(),
		middleware.CORS(opts.CORSOrigins),
	)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	r.GET("/healthz", opts.Controller.Health)

	DriverRoutes(r, opts.Controller, opts.Auth)
	PassengerRoutes(r, opts.Controller, opts.Auth)
	AdminRoutes(r, opts.Controller, opts.Auth)

	return r
}
