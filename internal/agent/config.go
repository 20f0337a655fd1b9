// Package agent runs on the driver's device side: it replays or reads
// positions and publishes them to the server.
package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tracknow/internal/location"
)

// Config holds the driver agent settings (AGENT_* variables).
type Config struct {
	ServerURL string
	Token     string

	// Used to mint a token locally when Token is empty.
	JWTSecret string
	AuthID    string

	TrackFile      string
	SampleInterval time.Duration
	Loop           bool

	Publisher location.PublisherConfig

	LogLevel logrus.Level
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found – relying on env vars")
	}

	cfg := &Config{
		ServerURL: strings.TrimRight(getEnv("AGENT_SERVER_URL", "http://localhost:8080"), "/"),
		Token:     os.Getenv("AGENT_TOKEN"),
		JWTSecret: os.Getenv("AGENT_JWT_SECRET"),
		AuthID:    os.Getenv("AGENT_AUTH_ID"),
		TrackFile: os.Getenv("AGENT_TRACK_FILE"),
		Publisher: location.DefaultPublisherConfig(),
	}

	if cfg.TrackFile == "" {
		return nil, fmt.Errorf("AGENT_TRACK_FILE must be set")
	}
	if cfg.Token == "" && (cfg.JWTSecret == "" || cfg.AuthID == "") {
		return nil, fmt.Errorf("AGENT_TOKEN or AGENT_JWT_SECRET with AGENT_AUTH_ID must be set")
	}

	var err error
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("AGENT_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("invalid AGENT_LOG_LEVEL: %w", err)
	}
	if cfg.Loop, err = strconv.ParseBool(getEnv("AGENT_LOOP", "true")); err != nil {
		return nil, fmt.Errorf("invalid AGENT_LOOP: %w", err)
	}
	if cfg.SampleInterval, err = positiveInt("AGENT_SAMPLE_INTERVAL_MS", time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	if cfg.Publisher.MinInterval, err = positiveInt("AGENT_MIN_INTERVAL_SEC", time.Second, cfg.Publisher.MinInterval); err != nil {
		return nil, err
	}
	if cfg.Publisher.RetryBackoff, err = positiveInt("AGENT_RETRY_BACKOFF_MS", time.Millisecond, cfg.Publisher.RetryBackoff); err != nil {
		return nil, err
	}
	if v := os.Getenv("AGENT_MIN_DISTANCE_M"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid AGENT_MIN_DISTANCE_M: %q", v)
		}
		cfg.Publisher.MinDistance = d
	}
	if v := os.Getenv("AGENT_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid AGENT_RETRY_ATTEMPTS: %q", v)
		}
		cfg.Publisher.RetryAttempts = uint(n)
	}
	return cfg, nil
}

func positiveInt(key string, unit, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * unit, nil
}

func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}
