// Package metrics serves the Prometheus metrics of the proxy.
// Metrics are defined with promauto in the packages that record them.
//
// Cache (pkg/cache):
//   - resulta_cache_hits_total{store}
//   - resulta_cache_misses_total{store}
//   - resulta_cache_written_bytes_total{store}
//   - resulta_cache_errors_total{operation}
//
// Upstream (pkg/upstream):
//   - resulta_upstream_requests_total{backend, status}
//   - resulta_upstream_request_duration_seconds{backend}
//   - resulta_upstream_errors_total{class}
//   - resulta_upstream_retries_total{error_class}
//   - resulta_upstream_retry_backoff_seconds{error_class}
//   - resulta_upstream_retry_exhausted_total{error_class}
//
// Orchestration (pkg/orchestrator, pkg/bgtask):
//   - resulta_batches_total{outcome}: hit, good, bad, invalid, internal_error
//   - resulta_background_tasks_total{name, status}
//
// HTTP (internal/server):
//   - resulta_http_requests_total{route, method, code}
//   - resulta_exam_list_purges_total{result}
//
// Example queries:
//
//	# Batch cache hit rate
//	sum(rate(resulta_batches_total{outcome="hit"}[5m])) / sum(rate(resulta_batches_total[5m]))
//
//	# Backend failure rate
//	sum by (backend) (rate(resulta_upstream_requests_total{status!="200"}[5m]))
//
//	# P95 backend latency
//	histogram_quantile(0.95, rate(resulta_upstream_request_duration_seconds_bucket[5m]))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default gatherer in the Prometheus text format and
// counts its own scrapes in promhttp_metric_handler_requests_total.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}),
	)
}
