// Package metrics holds the process-wide Prometheus instrumentation,
// exposed by the web server at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all toolkit metrics.
type Registry struct {
	// Tracker metrics
	TrackerPolls      prometheus.Counter
	TrackerPollErrors prometheus.Counter
	TrackerEvents     *prometheus.CounterVec
	WatchedStations   prometheus.Gauge

	// Controller metrics
	ControllerRequests *prometheus.CounterVec
	ControllerErrors   *prometheus.CounterVec

	// Intel metrics
	IntelLookups *prometheus.CounterVec

	// API metrics
	APIRequests *prometheus.CounterVec
	AuthDenied  *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.TrackerPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "tracker",
		Name:      "polls_total",
		Help:      "Controller poll cycles completed by the station tracker.",
	})
	r.TrackerPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "tracker",
		Name:      "poll_errors_total",
		Help:      "Tracker poll cycles that failed to enumerate stations.",
	})
	r.TrackerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "tracker",
		Name:      "events_total",
		Help:      "Station presence events emitted, by type.",
	}, []string{"type"})
	r.WatchedStations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "unifitk",
		Subsystem: "tracker",
		Name:      "watched_stations",
		Help:      "Stations currently on the watchlist.",
	})

	r.ControllerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "controller",
		Name:      "requests_total",
		Help:      "Requests issued to UniFi controllers, by operation.",
	}, []string{"operation"})
	r.ControllerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "controller",
		Name:      "errors_total",
		Help:      "Failed controller operations, by operation.",
	}, []string{"operation"})

	r.IntelLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "intel",
		Name:      "lookups_total",
		Help:      "Reputation lookups, by outcome.",
	}, []string{"outcome"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP API requests, by method and status class.",
	}, []string{"method", "status"})
	r.AuthDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unifitk",
		Subsystem: "api",
		Name:      "auth_denied_total",
		Help:      "Rejected requests, by reason.",
	}, []string{"reason"})

	return r
}
