// Package metrics wraps the Prometheus collectors used across the digest
// pipeline so each stage registers its counters/gauges/histograms through one
// place instead of scattering promauto calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the pipeline exposes.
type Registry struct {
	MessagesIngested   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	MessagesDuplicate  prometheus.Counter
	DigestPublished    prometheus.Counter
	DigestItemsByCat   *prometheus.CounterVec
	LLMChunkFailures   prometheus.Counter
	LLMRequestDuration *prometheus.HistogramVec
	StorageRetries     prometheus.Counter
	ListenerHeartbeat  prometheus.Gauge
	DedupCacheSize     prometheus.Gauge
}

// New registers and returns the pipeline's metric collectors.
func New() *Registry {
	return &Registry{
		MessagesIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_messages_ingested_total",
			Help: "Raw messages persisted by the ingestion listener, by channel handle.",
		}, []string{"channel"}),
		MessagesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_messages_rejected_total",
			Help: "Messages rejected at ingestion time, by rejection reason.",
		}, []string{"reason"}),
		MessagesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "newsdigest_messages_duplicate_total",
			Help: "Candidates rejected by the dedup engine as near-duplicates.",
		}),
		DigestPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "newsdigest_digest_published_total",
			Help: "Category groups published by the processor, one per delivered category digest.",
		}),
		DigestItemsByCat: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_digest_items_total",
			Help: "Published digest items, by category.",
		}, []string{"category"}),
		LLMChunkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "newsdigest_llm_chunk_failures_total",
			Help: "LLM response chunks dropped due to parse/schema failures.",
		}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdigest_llm_request_duration_seconds",
			Help:    "LLM selection-call latency, by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		StorageRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "newsdigest_storage_retries_total",
			Help: "Write retries triggered by sqlite busy/locked errors.",
		}),
		ListenerHeartbeat: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "newsdigest_listener_heartbeat_timestamp",
			Help: "Unix timestamp of the last listener heartbeat.",
		}),
		DedupCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "newsdigest_dedup_cache_size",
			Help: "Number of embeddings currently held in the run-local dedup cache.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
