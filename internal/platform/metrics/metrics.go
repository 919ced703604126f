package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the composition service.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	savesTotal         *prometheus.CounterVec
	saveFailuresTotal  prometheus.Counter
	loadFailuresTotal  prometheus.Counter
	broadcastsTotal    prometheus.Counter
	openSessions       prometheus.Gauge
	storedCompositions prometheus.Gauge
	errorsTotal        prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklab_requests_total",
		Help: "Total number of HTTP requests received",
	})
	savesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklab_saves_total",
		Help: "Total number of successful composition saves by kind",
	}, []string{"kind"})
	saveFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklab_save_failures_total",
		Help: "Total number of failed composition saves",
	})
	loadFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklab_load_failures_total",
		Help: "Total number of failed composition loads",
	})
	broadcastsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklab_broadcasts_total",
		Help: "Total number of state broadcasts relayed between sessions",
	})
	openSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracklab_open_sessions",
		Help: "Number of sessions currently attached to the broadcast relay",
	})
	storedCompositions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracklab_stored_compositions",
		Help: "Number of compositions currently stored",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklab_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		savesTotal,
		saveFailuresTotal,
		loadFailuresTotal,
		broadcastsTotal,
		openSessions,
		storedCompositions,
		errorsTotal,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		savesTotal:         savesTotal,
		saveFailuresTotal:  saveFailuresTotal,
		loadFailuresTotal:  loadFailuresTotal,
		broadcastsTotal:    broadcastsTotal,
		openSessions:       openSessions,
		storedCompositions: storedCompositions,
		errorsTotal:        errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncSaves increments the successful save counter for the given kind
// ("manual" or "autosave").
func (m *Metrics) IncSaves(kind string) {
	m.savesTotal.WithLabelValues(kind).Inc()
}

// IncSaveFailures increments the failed save counter.
func (m *Metrics) IncSaveFailures() {
	m.saveFailuresTotal.Inc()
}

// IncLoadFailures increments the failed load counter.
func (m *Metrics) IncLoadFailures() {
	m.loadFailuresTotal.Inc()
}

// IncBroadcasts increments the relayed broadcast counter.
func (m *Metrics) IncBroadcasts() {
	m.broadcastsTotal.Inc()
}

// SetOpenSessions sets the open sessions gauge.
func (m *Metrics) SetOpenSessions(n int) {
	m.openSessions.Set(float64(n))
}

// SetStoredCompositions sets the stored compositions gauge.
func (m *Metrics) SetStoredCompositions(n int) {
	m.storedCompositions.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
