// Package metrics exposes Prometheus collectors for the crawl engine and
// the API server.
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
	pagesScrapedTotal          *prometheus.CounterVec
	pagesFailedTotal           *prometheus.CounterVec
	cacheHitsTotal             prometheus.Counter
	robotsDeniedTotal          *prometheus.CounterVec
	crawlJobsTotal             *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	politenessDelaySeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supacrawl_pages_scraped_total",
				Help: "Total number of pages scraped, labeled by site.",
			},
			[]string{"site"},
		)

		pagesFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supacrawl_pages_failed_total",
				Help: "Total number of per-page failures, labeled by site and kind.",
			},
			[]string{"site", "kind"},
		)

		cacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "supacrawl_cache_hits_total",
				Help: "Total number of pages served from the content cache.",
			},
		)

		robotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supacrawl_robots_denied_total",
				Help: "Total number of URLs skipped because robots.txt disallows them.",
			},
			[]string{"site"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supacrawl_jobs_total",
				Help: "Total number of crawl jobs, labeled by outcome.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "supacrawl_active_workers",
				Help: "Number of workers currently processing a frontier entry.",
			},
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

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supacrawl_politeness_delay_seconds",
				Help:    "Histogram of crawl-delay waits imposed by robots.txt.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObservePageScraped increments the scraped-pages counter.
func ObservePageScraped(site string) {
	pagesScrapedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObservePageFailed increments the failed-pages counter for one kind.
func ObservePageFailed(site, kind string) {
	pagesFailedTotal.WithLabelValues(SanitizeSite(site), kind).Inc()
}

// ObserveCacheHit increments the cache hit counter.
func ObserveCacheHit() {
	cacheHitsTotal.Inc()
}

// ObserveRobotsDenied increments the robots denial counter.
func ObserveRobotsDenied(site string) {
	robotsDeniedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePolitenessDelay records the duration of a crawl-delay wait.
func ObservePolitenessDelay(site string, duration time.Duration) {
	politenessDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
