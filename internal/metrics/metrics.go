package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the failure paths that stay behaviorally silent (the page
// never sees them) but should still be observable from the outside.
var (
	PopulateAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_populate_attempts_total",
		Help: "URL fetch attempts made by population jobs.",
	})
	PopulateStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_populate_stored_total",
		Help: "Population fetches stored in a cache partition.",
	})
	PopulateFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_populate_failed_total",
		Help: "Population fetches skipped after a fetch or store failure.",
	})

	ManifestProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_manifest_probe_failures_total",
		Help: "Manifest probes that failed (network, status, or parse).",
	})

	InterceptHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_intercept_hits_total",
		Help: "Intercepted fetches served from a cache partition.",
	})
	InterceptMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_intercept_misses_total",
		Help: "Intercepted fetches that fell through to the network.",
	})
	InterceptFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_intercept_fallbacks_total",
		Help: "Intercepted fetches answered with a synthetic 504 after both cache and network missed.",
	})
)
