// Package metrics provides Prometheus metrics for CiviSync: counters,
// gauges, and histograms for sync runs, catalog resolution, and the hash
// cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Sync Runs ──────────────────────────────────────────────────────────────

// ItemsFinished tracks finished items by terminal state.
var ItemsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "items_finished_total",
	Help:      "Items finished per terminal state.",
}, []string{"state"})

// ItemsFailed tracks failed items by error kind.
var ItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "items_failed_total",
	Help:      "Failed items by error taxonomy kind.",
}, []string{"kind"})

// RunsTotal tracks completed reconciliation runs.
var RunsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "runs_total",
	Help:      "Total reconciliation runs completed.",
})

// WorkersActive tracks workers currently processing an item.
var WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "civisync",
	Name:      "workers_active",
	Help:      "Workers currently processing an item.",
})

// ─── Catalog ────────────────────────────────────────────────────────────────

// ResolveLatency tracks catalog by-hash lookup duration in seconds.
var ResolveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "civisync",
	Name:      "resolve_latency_seconds",
	Help:      "Catalog by-hash lookup duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ResolveRetries tracks resolve attempts beyond the first.
var ResolveRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "resolve_retries_total",
	Help:      "Catalog resolve retries after transient errors.",
})

// RateLimited tracks 429 responses from the catalog.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "rate_limited_total",
	Help:      "Requests the catalog answered with HTTP 429.",
})

// ─── Hash Cache ─────────────────────────────────────────────────────────────

// HashCacheHits tracks fingerprint requests served from the memo cache.
var HashCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "hash_cache_hits_total",
	Help:      "Fingerprints served from the (path, size, mtime) memo cache.",
})

// HashCacheMisses tracks fingerprints that required reading the file.
var HashCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "civisync",
	Name:      "hash_cache_misses_total",
	Help:      "Fingerprints that required a full file read.",
})

// HashLatency tracks full-file hash duration in seconds.
var HashLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "civisync",
	Name:      "hash_latency_seconds",
	Help:      "Full-file SHA-256 duration in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
})
