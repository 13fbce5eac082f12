package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics holds all Prometheus metrics for the ledger and the
// projection engine.
type LedgerMetrics struct {
	AppendsTotal        *prometheus.CounterVec
	PayloadBytesTotal   prometheus.Counter
	ProjectionWatermark *prometheus.GaugeVec
	ProjectionLag       *prometheus.GaugeVec
	ProjectionBatches   *prometheus.CounterVec
	ProjectionRebuilds  *prometheus.CounterVec
	APIKeyCacheHits     prometheus.Counter
	APIKeyCacheMisses   prometheus.Counter
}

// NewLedgerMetrics initializes and registers the Prometheus metrics.
func NewLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Total number of append attempts by outcome.",
		}, []string{"status"}), // status: committed, idempotent_replay, rejected_validation, rejected_duplicate, retryable, error
		PayloadBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "ledger",
			Name:      "payload_bytes_total",
			Help:      "Total payload bytes committed to the ledger.",
		}),
		ProjectionWatermark: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chronicle",
			Subsystem: "projection",
			Name:      "watermark",
			Help:      "Last committed global_seq per projection.",
		}, []string{"projection"}),
		ProjectionLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chronicle",
			Subsystem: "projection",
			Name:      "lag",
			Help:      "Events committed to the ledger but not yet folded, per projection.",
		}, []string{"projection"}),
		ProjectionBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "projection",
			Name:      "batches_total",
			Help:      "Total projection batches by outcome.",
		}, []string{"projection", "status"}), // status: committed, empty, conflict, diverged, error
		ProjectionRebuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "projection",
			Name:      "rebuilds_total",
			Help:      "Total projection rebuilds.",
		}, []string{"projection"}),
		APIKeyCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chronicle",
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}
