// Package metrics exposes the extractor's Prometheus metrics. All metrics are
// defined in their respective packages (client, ratelimit, storage, progress,
// extract) and registered via promauto; this package serves and pushes them.
package metrics

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the default Prometheus registry every package registers into.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects from Registry.
var Gatherer = prometheus.DefaultGatherer

// DefaultJob is the Pushgateway job name for batch runs.
const DefaultJob = "fudo_extract"

// Handler serves all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// BatchGrouping returns the Pushgateway grouping for batch runs: the host only.
// The group is stable across runs so each push replaces the previous one;
// per-run identifiers belong in logs.
func BatchGrouping() map[string]string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return map[string]string{"instance": host}
}

// Push sends the current values to a Pushgateway, replacing the job's group.
// Batch runs end before a scrape could see them.
func Push(url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}

	pusher := push.New(url, job).Gatherer(Gatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - fudo_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - fudo_request_duration_seconds{endpoint} (Histogram): Request duration including retries
//   - fudo_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - fudo_retries_total{error_class} (Counter): Retry attempts by error class
//   - fudo_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - fudo_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pacing Metrics (pkg/ratelimit):
//   - fudo_rate_limit_waits_total (Counter): Requests delayed by the token bucket
//   - fudo_rate_limit_pauses_total (Counter): Server-requested pauses (Retry-After)
//
// Storage Metrics (pkg/storage):
//   - storage_operations_total{backend, operation, result} (Counter): read/write/list by outcome
//   - storage_operation_duration_seconds{backend, operation} (Histogram)
//
// Run Metrics (pkg/extract, pkg/progress):
//   - extract_runs_total{dataset, outcome} (Counter): Dataset runs by outcome
//   - extract_records_fetched_total{dataset} (Counter): Records fetched
//   - extract_partitions_written_total{dataset, result} (Counter): Partition upserts by result
//   - extract_run_duration_seconds{dataset} (Histogram): Wall time of one dataset run
//   - extract_last_success_timestamp_seconds{dataset} (Gauge): Unix time of the last advanced run
//   - extract_marker_page{dataset} (Gauge): Last persisted marker
//
// Example Prometheus Queries:
//
//   # Datasets that have not advanced for a day
//   time() - extract_last_success_timestamp_seconds > 86400
//
//   # Failed runs
//   sum by (dataset) (increase(extract_runs_total{outcome!~"advanced|stalled"}[1d]))
//
//   # Partition write failures
//   increase(extract_partitions_written_total{result="error"}[1d])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(fudo_request_duration_seconds_bucket[5m]))
