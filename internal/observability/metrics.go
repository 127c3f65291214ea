package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard_watch"

// Metrics holds the Prometheus collectors for pollers, the alert store,
// notification sinks and geocoding.
type Metrics struct {
	Polls        *prometheus.CounterVec   // labels: source, outcome={success,error}
	PollDuration *prometheus.HistogramVec // labels: source

	AlertsAdmitted *prometheus.CounterVec // labels: kind
	AlertsRejected *prometheus.CounterVec // labels: kind
	AlertsRemoved  *prometheus.CounterVec // labels: reason={dismissed,expired,evicted}
	LiveAlerts     prometheus.Gauge

	Notifications *prometheus.CounterVec // labels: sink, outcome={success,error,dropped}

	GeocodeRequests *prometheus.CounterVec // labels: method={search,reverse}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: method, result={hit,miss}
}

func newMetrics() *Metrics {
	return &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Provider polls by source and outcome.",
		}, []string{"source", "outcome"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a single provider fetch.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source"}),
		AlertsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_admitted_total",
			Help:      "Candidates admitted into the live alert feed.",
		}, []string{"kind"}),
		AlertsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Candidates rejected as duplicates of a live alert.",
		}, []string{"kind"}),
		AlertsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_removed_total",
			Help:      "Alerts removed from the live feed by reason.",
		}, []string{"reason"}),
		LiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_alerts",
			Help:      "Alerts currently in the live feed.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert change notifications by sink and outcome.",
		}, []string{"sink", "outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoder requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoder cache lookups by method and result.",
		}, []string{"method", "result"}),
	}
}

// NewMetrics creates the collectors and registers them with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Polls,
		m.PollDuration,
		m.AlertsAdmitted,
		m.AlertsRejected,
		m.AlertsRemoved,
		m.LiveAlerts,
		m.Notifications,
		m.GeocodeRequests,
		m.GeocodeCache,
	)
	return m
}

// NewMetricsForTesting returns unregistered collectors so tests can build
// as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
