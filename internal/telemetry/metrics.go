// Package telemetry provides application-level observability for the
// registry core.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<FORC_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text exposition
// format and is scraped independently of the Gin router — it is not part of
// the public API surface.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Publish pipeline stage durations (toolchain install, build, doc generation)
//   - Blob pin outcomes by backend (ipfs, mirror)
//   - Index publish outcomes
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /package/:name)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as package names.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/modules/:namespace/:name/:system/:version/download),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Publish pipeline metrics — recorded by internal/publish.Orchestrator.
//
// PublishStageDuration is a HistogramVec with label {stage}, one of
// "toolchain_install", "build", "doc", "blob_pin", "index_publish". Each
// observation covers one invocation of that stage during upload_project or
// publish.
//
// Example PromQL queries:
//   - p95 build duration:  histogram_quantile(0.95, sum by (le) (rate(publish_stage_duration_seconds_bucket{stage="build"}[1h])))
var PublishStageDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "publish_stage_duration_seconds",
		Help:    "Duration of one publish pipeline stage, by stage name.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// BlobPinOutcomesTotal is a CounterVec with labels {backend, outcome}, where
// backend is "ipfs" or "mirror" and outcome is "success" or "failure".
//
// Example PromQL queries:
//   - Mirror failure rate:  rate(blob_pin_outcomes_total{backend="mirror",outcome="failure"}[1h])
var BlobPinOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "blob_pin_outcomes_total",
		Help: "Total number of blob pin attempts, by backend and outcome.",
	},
	[]string{"backend", "outcome"},
)

// IndexPublishOutcomesTotal is a CounterVec with label {outcome}, one of
// "success", "version_collision", "no_changes", "error".
//
// Example PromQL queries:
//   - Index publish error rate:  rate(index_publish_outcomes_total{outcome="error"}[1h])
var IndexPublishOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "index_publish_outcomes_total",
		Help: "Total number of index publish attempts, by outcome.",
	},
	[]string{"outcome"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <FORC_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
