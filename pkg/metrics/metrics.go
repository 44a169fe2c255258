package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qrspider"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "API requests rejected by the per-client rate limit.",
		},
	)

	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "Pages fetched and scanned, by outcome.",
		},
		[]string{"status", "error_type"}, // status: success, failure
	)

	ImagesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_downloaded_total",
			Help:      "Candidate image downloads, by outcome.",
		},
		[]string{"status", "error_type"},
	)

	DecodeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_attempts_total",
			Help:      "Decode strategy invocations, by strategy and outcome.",
		},
		[]string{"strategy", "outcome"}, // outcome: success, failure, panic
	)

	DecodeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_cache_lookups_total",
			Help:      "Decode cache lookups, by result.",
		},
		[]string{"result"}, // hit, negative_hit, miss, error
	)

	QRCodesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_codes_found_total",
			Help:      "Decoded QR codes, split by WeChat variant.",
		},
		[]string{"variant"},
	)

	ImageHostWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_host_wait_seconds",
			Help:      "Time spent waiting for a per-host image download slot.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	ImageHostsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "image_hosts_tracked",
			Help:      "Hosts with a live image download slot.",
		},
	)

	FrontierSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_size",
			Help:      "Entries waiting in crawl frontiers.",
		},
	)

	ActiveCrawls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_crawls",
			Help:      "Crawl runs currently in progress.",
		},
	)

	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Duration of crawl runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"}, // completed, cancelled, rejected
	)
)

// VariantLabel maps the WeChat flag to a metric label value.
func VariantLabel(isWechat bool) string {
	if isWechat {
		return "wechat"
	}
	return "other"
}
