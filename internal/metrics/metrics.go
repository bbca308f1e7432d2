// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesTotal counts completed fetch attempts by outcome:
	// "succeeded", "failed", or "transport_error".
	PagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_pages_total",
		Help: "Total fetch attempts completed, labeled by outcome.",
	}, []string{"outcome"})

	// LinksExtracted counts raw links pulled out of fetched pages.
	LinksExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_links_extracted_total",
		Help: "Total outbound links extracted from fetched pages.",
	})

	// LinksDiscarded counts links dropped by normalization.
	LinksDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_links_discarded_total",
		Help: "Total extracted links dropped as invalid during normalization.",
	})

	// URLsDiscovered counts newly created URL rows.
	URLsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_urls_discovered_total",
		Help: "Total previously unseen URLs inserted into the store.",
	})

	// EdgesAdded counts link-graph edge insert requests.
	EdgesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_edges_added_total",
		Help: "Total link graph edge insertions requested.",
	})

	// StoreFailures counts persistence operations that found the
	// backend unreachable.
	StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_store_failures_total",
		Help: "Total store operations abandoned because the backend was unavailable.",
	})

	// FrontierQueued gauges the number of ids waiting for a worker.
	FrontierQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_frontier_queued",
		Help: "URL ids currently queued in the frontier.",
	})

	// FetchDuration observes end-to-end fetch latency.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_fetch_duration_seconds",
		Help:    "Histogram of fetch latencies.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
