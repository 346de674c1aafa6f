// Package metrics defines the Prometheus collectors used by the ingestion
// pipeline, the corpus cache, baseline loading and the comparison run, and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a run.
type Metrics struct {
	DocsIngestedTotal      prometheus.Counter
	DocsFailedTotal        *prometheus.CounterVec
	DocIngestDuration      prometheus.Histogram
	GarbageDocsTotal       prometheus.Counter
	TrieEntries            *prometheus.GaugeVec
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	BaselineRecordsTotal   prometheus.Counter
	BaselineMalformedTotal prometheus.Counter
	ComparisonsTotal       prometheus.Counter
	ComparisonDuration     prometheus.Histogram
	ScoreMemoHitsTotal     prometheus.Counter
	ReportWritesTotal      *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_docs_ingested_total",
				Help: "Documents folded into a trie.",
			},
		),
		DocsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngram_docs_failed_total",
				Help: "Documents skipped because they could not be loaded, by stage.",
			},
			[]string{"stage"},
		),
		DocIngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ngram_doc_ingest_duration_seconds",
				Help:    "Time to load and tokenize one document into a trie.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		GarbageDocsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_garbage_docs_total",
				Help: "Documents whose common-trigram ratio fell under the garbage threshold.",
			},
		),
		TrieEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ngram_trie_entries",
				Help: "Entries in a named trie (aggregate, baseline).",
			},
			[]string{"trie"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_cache_hits_total",
				Help: "Corpus cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_cache_misses_total",
				Help: "Corpus cache misses (including every access with caching disabled).",
			},
		),
		BaselineRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_baseline_records_total",
				Help: "Baseline dump records loaded.",
			},
		),
		BaselineMalformedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_baseline_malformed_total",
				Help: "Baseline dump lines skipped as malformed.",
			},
		),
		ComparisonsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_comparisons_total",
				Help: "Document pairs scored.",
			},
		),
		ComparisonDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ngram_comparison_duration_seconds",
				Help:    "Time to score one document pair.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		ScoreMemoHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngram_score_memo_hits_total",
				Help: "Pair scores served from the score memo.",
			},
		),
		ReportWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngram_report_writes_total",
				Help: "Report records written by sink and status.",
			},
			[]string{"sink", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ngram_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.DocsIngestedTotal,
		m.DocsFailedTotal,
		m.DocIngestDuration,
		m.GarbageDocsTotal,
		m.TrieEntries,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BaselineRecordsTotal,
		m.BaselineMalformedTotal,
		m.ComparisonsTotal,
		m.ComparisonDuration,
		m.ScoreMemoHitsTotal,
		m.ReportWritesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewUnregistered creates collectors on a private registry. Tests and
// library callers that do not scrape use it.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
