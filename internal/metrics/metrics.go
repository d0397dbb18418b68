// Package metrics exposes Prometheus metrics for HTTP traffic, location
// sharing, invitations, push delivery and realtime connections.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records metrics into a Prometheus registry
type Collector struct {
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	locationUpdates   prometheus.Counter
	invitationsMinted prometheus.Counter
	invitationsUsed   prometheus.Counter
	pushDeliveries    *prometheus.CounterVec
	onlineConnections prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circles_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circles_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		locationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circles_location_updates_total",
			Help: "Location updates stored.",
		}),
		invitationsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circles_invitations_created_total",
			Help: "Invitation codes created.",
		}),
		invitationsUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circles_invitations_redeemed_total",
			Help: "Invitation codes redeemed.",
		}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circles_push_deliveries_total",
			Help: "Push notifications by provider and result.",
		}, []string{"provider", "result"}),
		onlineConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "circles_online_connections",
			Help: "Open WebSocket connections.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.locationUpdates,
		c.invitationsMinted,
		c.invitationsUsed,
		c.pushDeliveries,
		c.onlineConnections,
	)

	return c
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(route, method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordLocationUpdate() {
	c.locationUpdates.Inc()
}

func (c *Collector) RecordInvitationCreated() {
	c.invitationsMinted.Inc()
}

func (c *Collector) RecordInvitationRedeemed() {
	c.invitationsUsed.Inc()
}

func (c *Collector) RecordPushDelivery(provider string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	c.pushDeliveries.WithLabelValues(provider, result).Inc()
}

func (c *Collector) SetOnlineConnections(n int) {
	c.onlineConnections.Set(float64(n))
}

// Handler returns the HTTP handler Prometheus scrapes
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
