// Package geocode resolves free-text place names to coordinates through a
// Nominatim-compatible search API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tracknow/internal/apperr"
)

// LatLon is a resolved WGS84 coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Resolver turns a place name into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, placeName string) (LatLon, error)
}

// Observer receives the outcome of each lookup ("ok", "not_found", "unavailable").
type Observer interface {
	GeocodeObserve(outcome string, d time.Duration)
}

// Client is a Nominatim search client. One request per lookup, first result
// only, no caching and no retries.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	observer   Observer
}

func NewClient(baseURL, userAgent string, timeout time.Duration, observer Observer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		observer:   observer,
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Resolve looks up placeName. Zero matches is NotFound; transport, status and
// decoding failures are Unavailable.
func (c *Client) Resolve(ctx context.Context, placeName string) (LatLon, error) {
	place := strings.TrimSpace(placeName)
	if place == "" {
		return LatLon{}, apperr.Validation("place name is required")
	}

	start := time.Now()
	loc, err := c.search(ctx, place)
	if c.observer != nil {
		c.observer.GeocodeObserve(outcome(err), time.Since(start))
	}
	if err != nil {
		logrus.WithError(err).WithField("place", place).Warn("Geocode lookup failed")
		return LatLon{}, err
	}
	logrus.WithFields(logrus.Fields{
		"place": place,
		"lat":   loc.Lat,
		"lon":   loc.Lon,
	}).Debug("Geocode lookup resolved")
	return loc, nil
}

func (c *Client) search(ctx context.Context, place string) (LatLon, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return LatLon{}, apperr.Unavailable(err, "geocoder request could not be built")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LatLon{}, apperr.Unavailable(err, "geocoder unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return LatLon{}, apperr.Unavailable(
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"geocoder returned an error",
		)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return LatLon{}, apperr.Unavailable(err, "geocoder response could not be decoded")
	}
	if len(results) == 0 {
		return LatLon{}, apperr.NotFound("location not found, try a more specific name")
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return LatLon{}, apperr.Unavailable(err, "geocoder returned an invalid latitude")
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return LatLon{}, apperr.Unavailable(err, "geocoder returned an invalid longitude")
	}
	return LatLon{Lat: lat, Lon: lon}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.Is(err, apperr.KindNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}
