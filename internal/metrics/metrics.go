// Package metrics exposes Prometheus collectors for the registry crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryRequestsTotal      *prometheus.CounterVec
	registryRetriesTotal       *prometheus.CounterVec
	registryRotationsTotal     *prometheus.CounterVec
	registryRateLimitDelays    *prometheus.HistogramVec
	collectorPagesTotal        *prometheus.CounterVec
	pipelineRowsTotal          *prometheus.CounterVec
	pipelineFetchFailuresTotal *prometheus.CounterVec
	sroCacheLookupsTotal       *prometheus.CounterVec
	writerRowsTotal            *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	writerSaveRetriesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registryRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_registry_requests_total",
				Help: "Registry API attempts, labeled by host and status code (0 for transport errors).",
			},
			[]string{"host", "code"},
		)

		registryRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_registry_retries_total",
				Help: "Registry API re-attempts after a failure, labeled by host.",
			},
			[]string{"host"},
		)

		registryRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_ip_rotations_total",
				Help: "Egress IP rotation calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		registryRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sro_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		collectorPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_collector_pages_total",
				Help: "Listing pages requested by the ID collector, labeled by service.",
			},
			[]string{"service"},
		)

		pipelineRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_pipeline_rows_total",
				Help: "Member rows fetched and normalised, labeled by service.",
			},
			[]string{"service"},
		)

		pipelineFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_pipeline_fetch_failures_total",
				Help: "Member fetches that aborted a pipeline, labeled by service.",
			},
			[]string{"service"},
		)

		sroCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_cache_lookups_total",
				Help: "SRO descriptor cache lookups, labeled by service and result.",
			},
			[]string{"service", "result"},
		)

		writerRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_writer_rows_total",
				Help: "Rows appended to an output, labeled by sink.",
			},
			[]string{"sink"},
		)

		writerSaveRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_writer_save_retries_total",
				Help: "Workbook saves retried because the destination was locked, labeled by sink.",
			},
			[]string{"sink"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sro_runs_total",
				Help: "Finished collection runs, labeled by service and status.",
			},
			[]string{"service", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRegistryRequest counts one registry API attempt.
func ObserveRegistryRequest(rawURL string, code int) {
	registryRequestsTotal.WithLabelValues(SanitizeSite(rawURL), strconv.Itoa(code)).Inc()
}

// ObserveRetry counts one re-attempt against rawURL.
func ObserveRetry(rawURL string) {
	registryRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRotation counts an IP rotation call.
func ObserveRotation(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	registryRotationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	registryRateLimitDelays.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveListingPage counts a listing page request.
func ObserveListingPage(service string) {
	collectorPagesTotal.WithLabelValues(service).Inc()
}

// ObserveRows adds n fetched rows.
func ObserveRows(service string, n int) {
	pipelineRowsTotal.WithLabelValues(service).Add(float64(n))
}

// ObserveFetchFailure counts a fetch that aborted the pipeline.
func ObserveFetchFailure(service string) {
	pipelineFetchFailuresTotal.WithLabelValues(service).Inc()
}

// ObserveSROLookup counts an SRO cache hit or miss.
func ObserveSROLookup(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	sroCacheLookupsTotal.WithLabelValues(service, result).Inc()
}

// ObserveWrite adds n appended rows for sink.
func ObserveWrite(sink string, n int) {
	if n > 0 {
		writerRowsTotal.WithLabelValues(sink).Add(float64(n))
	}
}

// ObserveSaveRetry counts a locked-destination save retry.
func ObserveSaveRetry(sink string) {
	writerSaveRetriesTotal.WithLabelValues(sink).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(service, status string) {
	runsTotal.WithLabelValues(service, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
