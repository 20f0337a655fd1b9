// Command driver-agent replays a recorded track as a driver's device would,
// publishing positions to the TrackNow server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tracknow/internal/agent"
	"tracknow/internal/location"
	"tracknow/internal/logger"
	"tracknow/internal/middleware"
)

func main() {
	cfg, err := agent.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger.Setup(cfg.LogLevel, "")

	f, err := os.Open(cfg.TrackFile)
	if err != nil {
		logrus.WithError(err).Fatal("Cannot open track file")
	}
	points, err := location.ParseTrack(f)
	f.Close()
	if err != nil {
		logrus.WithError(err).Fatal("Cannot parse track file")
	}

	token := cfg.Token
	if token == "" {
		token, err = middleware.NewAuth(cfg.JWTSecret).GenerateToken(cfg.AuthID, middleware.RoleDriver, 24*time.Hour)
		if err != nil {
			logrus.WithError(err).Fatal("Cannot sign token")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sensor := &location.ReplaySensor{Points: points, Interval: cfg.SampleInterval, Loop: cfg.Loop}
	sink := agent.NewHTTPSink(cfg.ServerURL, token, 10*time.Second)
	pub := location.NewPublisher(sensor, sink, cfg.Publisher, nil)

	if err := pub.Start(ctx, "self"); err != nil {
		logrus.WithError(err).Fatal("Cannot start publishing")
	}
	logrus.WithFields(logrus.Fields{"points": len(points), "server": cfg.ServerURL}).Info("Driver agent running")

	done := make(chan struct{})
	go func() {
		pub.Wait()
		close(done)
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			logrus.WithField("status", pub.Status()).Info("Driver agent finished")
			return
		case <-ticker.C:
			st := pub.Status()
			logrus.WithFields(logrus.Fields{
				"last_published": st.LastPublished,
				"failures":       st.ConsecutiveFailures,
				"stale":          st.Stale,
			}).Info("Publisher status")
		}
	}
}
