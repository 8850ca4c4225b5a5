// Package metrics provides the Prometheus registry the fetcher exposes.
// All metrics are defined in the packages that record them (registry,
// pipeline) to keep instrumentation next to the instrumented code.
//
// This package provides the HTTP handler and documentation for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the fetcher.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the registry in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/registry):
//   - mastr_requests_total{op, status} (Counter): Total requests by operation and HTTP status
//   - mastr_request_duration_seconds{op} (Histogram): Request duration by operation
//   - mastr_faults_total{fault} (Counter): Faults by class (service, timeout, permanent)
//
// Retry Metrics (pkg/registry):
//   - mastr_retries_total{fault} (Counter): Retry attempts by fault class
//   - mastr_retry_backoff_seconds{fault} (Histogram): Backoff duration by fault class
//   - mastr_retry_exhausted_total{fault} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/registry):
//   - mastr_cache_hits_total (Counter): Unit records served from the cache
//   - mastr_cache_misses_total (Counter): Cache lookups that fell through to the API
//   - mastr_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pipeline Metrics (pkg/pipeline):
//   - mastr_batches_dispatched_total (Counter): Data batches enqueued by the dispatcher
//   - mastr_identifiers_dispatched_total (Counter): Identifiers read from sources and enqueued
//   - mastr_records_written_total (Counter): Records fetched and written to output sinks
//   - mastr_fetch_failures_total (Counter): Identifiers skipped after retries were exhausted
//   - mastr_batches_completed_total (Counter): Batches fully processed by workers
//   - mastr_batches_discarded_total (Counter): Batches truncated over the errors limit
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(mastr_cache_hits_total[5m])) /
//   (sum(rate(mastr_cache_hits_total[5m])) + sum(rate(mastr_cache_misses_total[5m])))
//
//   # Fetch Failure Rate
//   rate(mastr_fetch_failures_total[5m]) / rate(mastr_identifiers_dispatched_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(mastr_request_duration_seconds_bucket[5m]))
//
//   # Throughput
//   rate(mastr_records_written_total[5m])
