package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every setting the server binary needs.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string

	LogLevel logrus.Level
	LogFile  string

	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderTimeout   time.Duration

	LocationStaleAfter   time.Duration
	LocationPollInterval time.Duration
	LocationFeed         string // "poll" or "nats"

	NATSURL   string
	RedisAddr string
	CacheTTL  time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found – relying on env vars")
	}

	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:       databaseURL(),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		LogFile:           getEnv("LOG_FILE", "./logs/app.log"),
		GeocoderURL:       strings.TrimRight(getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"), "/"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "TrackNowApp/1.0"),
		LocationFeed:      strings.ToLower(getEnv("LOCATION_FEED", "poll")),
		NATSURL:           os.Getenv("NATS_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.GeocoderTimeout, err = durationEnv("GEOCODER_TIMEOUT_MS", time.Millisecond, 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.LocationStaleAfter, err = durationEnv("LOCATION_STALE_AFTER_SEC", time.Second, 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LocationPollInterval, err = durationEnv("LOCATION_POLL_INTERVAL_MS", time.Millisecond, 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL_SEC", time.Second, time.Minute); err != nil {
		return nil, err
	}

	switch cfg.LocationFeed {
	case "poll":
	case "nats":
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("LOCATION_FEED=nats requires NATS_URL")
		}
	default:
		return nil, fmt.Errorf("invalid LOCATION_FEED: %q", cfg.LocationFeed)
	}

	return cfg, nil
}

// databaseURL prefers DATABASE_URL and otherwise builds a key/value DSN from DB_* vars.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_NAME", "tracknow"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_SSLMODE", "disable"),
		getEnv("DB_TIMEZONE", "UTC"),
	)
}

// durationEnv parses a positive integer count of unit from key.
func durationEnv(key string, unit, def time.Duration) (time.Duration, error) {
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

// splitList parses a comma separated list, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}
