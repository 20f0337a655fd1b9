package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every TrackNow metric on a private registry.
type Collector struct {
	reg *prometheus.Registry

	HTTPRequests *prometheus.CounterVec   // method, route, status
	HTTPDuration *prometheus.HistogramVec // method, route

	GeocodeLookups  *prometheus.CounterVec // outcome: ok|not_found|unavailable
	GeocodeDuration prometheus.Histogram

	LocationPolls     *prometheus.CounterVec // result: fresh|stale|not_available|error
	LocationPublishes *prometheus.CounterVec // result: ok|failed

	NATSMessages    prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CacheLookups *prometheus.CounterVec // result: hit|miss
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracknow_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracknow_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route"}),
		GeocodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracknow_geocode_lookups_total",
			Help: "Geocoder lookups by outcome.",
		}, []string{"outcome"}),
		GeocodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracknow_geocode_duration_seconds",
			Help:    "Geocoder round trip time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LocationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracknow_location_polls_total",
			Help: "Latest location reads by result.",
		}, []string{"result"}),
		LocationPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracknow_location_publishes_total",
			Help: "Location samples written by the publisher, by result.",
		}, []string{"result"}),
		NATSMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracknow_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracknow_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracknow_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracknow_route_cache_lookups_total",
			Help: "Route query cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.GeocodeLookups, c.GeocodeDuration,
		c.LocationPolls, c.LocationPublishes,
		c.NATSMessages, c.NATSPublishErrs, c.NATSConnected,
		c.CacheLookups,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Middleware records every request against its route template, so
// /admin/drivers/:id/location is one series regardless of the id.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) GeocodeObserve(outcome string, d time.Duration) {
	c.GeocodeLookups.WithLabelValues(outcome).Inc()
	c.GeocodeDuration.Observe(d.Seconds())
}

func (c *Collector) LocationPolled(result string) {
	c.LocationPolls.WithLabelValues(result).Inc()
}

func (c *Collector) LocationPublished(ok bool) {
	if ok {
		c.LocationPublishes.WithLabelValues("ok").Inc()
		return
	}
	c.LocationPublishes.WithLabelValues("failed").Inc()
}

func (c *Collector) NATSPublished(ok bool) {
	if ok {
		c.NATSMessages.Inc()
		return
	}
	c.NATSPublishErrs.Inc()
}

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) CacheLookup(hit bool) {
	if hit {
		c.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.CacheLookups.WithLabelValues("miss").Inc()
}
