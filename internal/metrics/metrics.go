package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CrawlCycles counts crawl cycles by outcome: completed, skipped, failed.
	CrawlCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstats_crawl_cycles_total",
			Help: "Total number of crawl cycles by outcome",
		},
		[]string{"outcome"},
	)

	CrawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketstats_crawl_duration_seconds",
			Help:    "Duration of completed crawl cycles in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// ExtensionsReconciled counts catalog reconciliation results: created, updated, unchanged, failed.
	ExtensionsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstats_extensions_reconciled_total",
			Help: "Total number of extensions processed by catalog reconciliation",
		},
		[]string{"result"},
	)

	// InstallRecords counts install history writes: inserted, amended, failed, missing.
	InstallRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstats_install_records_total",
			Help: "Total number of install history reconciliations by result",
		},
		[]string{"result"},
	)

	// GatewayRequests counts marketplace API calls: success, failure, rejected.
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstats_gateway_requests_total",
			Help: "Total number of marketplace API requests by outcome",
		},
		[]string{"outcome"},
	)

	GatewayCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketstats_gateway_cache_hits_total",
			Help: "Total number of publisher catalog cache hits",
		},
	)

	GatewayCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketstats_gateway_cache_misses_total",
			Help: "Total number of publisher catalog cache misses",
		},
	)
)
