// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkmeta"

var (
	// FetchRequests counts outbound requests by method and outcome
	// (ok, status, timeout, network, blocked).
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_requests_total",
		Help:      "Outbound HTTP requests by method and outcome.",
	}, []string{"method", "outcome"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Outbound HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// MetadataScrapes counts scrapes by platform and outcome
	// (found, degraded, not_found, error).
	MetadataScrapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_scrapes_total",
		Help:      "Metadata scrapes by platform and outcome.",
	}, []string{"platform", "outcome"})

	ArticleExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "article_extractions_total",
		Help:      "Article extractions by platform and outcome.",
	}, []string{"platform", "outcome"})

	LinkChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_checks_total",
		Help:      "Link health checks by resulting status.",
	}, []string{"status"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_open",
		Help:      "1 while the platform circuit breaker is open.",
	}, []string{"platform"})

	StoredImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stored_images_total",
		Help:      "Preview images persisted, by outcome.",
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Inbound API requests by route and status code.",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Inbound API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveFetch records one outbound request
func ObserveFetch(method, outcome string, start time.Time) {
	FetchRequests.WithLabelValues(method, outcome).Inc()
	FetchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one inbound request
func ObserveHTTP(route string, code int, start time.Time) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// DatabaseMetrics exports sql.DB pool statistics
type DatabaseMetrics struct {
	openConnections *prometheus.GaugeVec
	inUse           *prometheus.GaugeVec
	idle            *prometheus.GaugeVec
	waitCount       *prometheus.GaugeVec
	waitDuration    *prometheus.GaugeVec
	service         string
}

// NewDatabaseMetrics registers pool gauges with the default registerer
func NewDatabaseMetrics(service string) *DatabaseMetrics {
	return NewDatabaseMetricsWith(prometheus.DefaultRegisterer, service)
}

// NewDatabaseMetricsWith registers pool gauges with reg
func NewDatabaseMetricsWith(reg prometheus.Registerer, service string) *DatabaseMetrics {
	factory := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, []string{"service"})
	}

	return &DatabaseMetrics{
		openConnections: gauge("open_connections", "Established connections, in use and idle."),
		inUse:           gauge("in_use_connections", "Connections currently in use."),
		idle:            gauge("idle_connections", "Idle connections."),
		waitCount:       gauge("wait_count", "Total connections waited for."),
		waitDuration:    gauge("wait_duration_seconds", "Total time blocked waiting for a connection."),
		service:         service,
	}
}

// UpdateDBStats copies the current pool statistics into the gauges
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.openConnections.WithLabelValues(m.service).Set(float64(stats.OpenConnections))
	m.inUse.WithLabelValues(m.service).Set(float64(stats.InUse))
	m.idle.WithLabelValues(m.service).Set(float64(stats.Idle))
	m.waitCount.WithLabelValues(m.service).Set(float64(stats.WaitCount))
	m.waitDuration.WithLabelValues(m.service).Set(stats.WaitDuration.Seconds())
}
