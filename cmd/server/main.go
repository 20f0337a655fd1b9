package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracknow/internal/broadcast"
	"tracknow/internal/cache"
	"tracknow/internal/config"
	"tracknow/internal/controllers"
	"tracknow/internal/geocode"
	"tracknow/internal/location"
	"tracknow/internal/logger"
	"tracknow/internal/messages"
	"tracknow/internal/metrics"
	"tracknow/internal/middleware"
	"tracknow/internal/profiles"
	"tracknow/internal/routequery"
	"tracknow/internal/routes"
	"tracknow/internal/stops"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger.Setup(cfg.LogLevel, cfg.LogFile)
	if cfg.LogLevel < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := config.OpenDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Database setup failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	logrus.Info("Database connected and migrated")

	mcol := metrics.NewCollector()

	var queryCache cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			logrus.WithError(err).Fatal("Redis unavailable")
		}
		defer client.Close()
		queryCache = cache.NewRedis(client, "tracknow:")
		logrus.WithField("addr", cfg.RedisAddr).Info("Using redis query cache")
	}

	store := location.NewStore(db)
	poller := location.NewPoller(store, cfg.LocationStaleAfter, mcol)

	var (
		bc   broadcast.Broadcaster = broadcast.Noop{}
		feed location.Feed         = location.NewPollingFeed(poller, cfg.LocationPollInterval)
	)
	if cfg.NATSURL != "" {
		nb, err := broadcast.Connect(cfg.NATSURL, mcol)
		if err != nil {
			logrus.WithError(err).Fatal("NATS unavailable")
		}
		defer nb.Close()
		bc = nb
		if cfg.LocationFeed == "nats" {
			feed = broadcast.NewFeed(nb.Conn(), poller, cfg.LocationPollInterval)
		}
		logrus.WithFields(logrus.Fields{"url": cfg.NATSURL, "feed": cfg.LocationFeed}).Info("NATS broadcast enabled")
	}

	engine := stops.NewEngine(db)
	ctl := &controllers.Controller{
		Profiles: profiles.NewService(db),
		Routes:   routequery.NewService(db, engine, queryCache, cfg.CacheTTL, mcol),
		Stops:    engine,
		Geocoder: geocode.NewClient(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderTimeout, mcol),
		Sink:     broadcast.NewSink(store, bc),
		Poller:   poller,
		Feed:     feed,
		Messages: messages.NewService(db, bc),
	}

	r := routes.SetupRouter(routes.Options{
		Controller:  ctl,
		Auth:        middleware.NewAuth(cfg.JWTSecret),
		Metrics:     mcol,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the process context instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Graceful shutdown incomplete")
	}
}
