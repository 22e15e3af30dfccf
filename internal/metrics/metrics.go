// Package metrics holds the Prometheus collectors of the ShipTrack processes. Each process owns
// its own registry, so tests can build as many instances as they need.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shiptrack"

type Metrics struct {
	service  string
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ShipmentsCreated    prometheus.Counter
	ShipmentsDeleted    prometheus.Counter
	StatusTransitions   *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec

	TrackingCacheLookups *prometheus.CounterVec
	RateLimited          prometheus.Counter

	SweepRuns     *prometheus.CounterVec
	OverdueMarked prometheus.Counter
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": service}
	m := &Metrics{service: service, registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})

	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request duration in seconds",
		ConstLabels: constLabels,
		Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route"})

	m.ShipmentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "shipments_created_total",
		Help:        "Shipments created",
		ConstLabels: constLabels,
	})

	m.ShipmentsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "shipments_deleted_total",
		Help:        "Shipments deleted",
		ConstLabels: constLabels,
	})

	m.StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "status_transitions_total",
		Help:        "Committed status transitions",
		ConstLabels: constLabels,
	}, []string{"from", "to"})

	m.RejectedTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "status_transitions_rejected_total",
		Help:        "Status transitions rejected by the lifecycle rules",
		ConstLabels: constLabels,
	}, []string{"from", "to"})

	m.EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "events_published_total",
		Help:        "Shipment events published",
		ConstLabels: constLabels,
	}, []string{"event_type", "status"})

	m.EventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "events_consumed_total",
		Help:        "Shipment events consumed into the history",
		ConstLabels: constLabels,
	}, []string{"event_type", "status"})

	m.TrackingCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "tracking_cache_lookups_total",
		Help:        "Public tracking lookups by cache result",
		ConstLabels: constLabels,
	}, []string{"result"})

	m.RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "tracking_rate_limited_total",
		Help:        "Public tracking requests rejected by the rate limiter",
		ConstLabels: constLabels,
	})

	m.SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "overdue_sweep_runs_total",
		Help:        "Overdue sweep runs",
		ConstLabels: constLabels,
	}, []string{"status"})

	m.OverdueMarked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "overdue_notices_total",
		Help:        "Overdue notices emitted",
		ConstLabels: constLabels,
	})

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.ShipmentsCreated, m.ShipmentsDeleted, m.StatusTransitions, m.RejectedTransitions,
		m.EventsPublished, m.EventsConsumed,
		m.TrackingCacheLookups, m.RateLimited,
		m.SweepRuns, m.OverdueMarked,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The Record helpers accept a nil receiver, so components can run without metrics.

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordCreated() {
	if m == nil {
		return
	}
	m.ShipmentsCreated.Inc()
}

func (m *Metrics) RecordDeleted() {
	if m == nil {
		return
	}
	m.ShipmentsDeleted.Inc()
}

func (m *Metrics) RecordTransition(from, to string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.StatusTransitions.WithLabelValues(from, to).Inc()
		return
	}
	m.RejectedTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordPublish(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

func (m *Metrics) RecordConsume(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(eventType, outcome(err)).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TrackingCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) RecordSweep(marked int, err error) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome(err)).Inc()
	m.OverdueMarked.Add(float64(marked))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
