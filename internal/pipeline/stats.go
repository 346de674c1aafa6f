package pipeline

import (
	"slices"
	"time"
)

// Stats summarises per-document ingestion latency.
type Stats struct {
	Documents int           `json:"documents"`
	Avg       time.Duration `json:"avg"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	Max       time.Duration `json:"max"`
}

func summarize(latencies []time.Duration) Stats {
	stats := Stats{Documents: len(latencies)}
	if len(latencies) == 0 {
		return stats
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	stats.Avg = sum / time.Duration(len(sorted))
	stats.P50 = percentile(sorted, 50)
	stats.P95 = percentile(sorted, 95)
	stats.Max = sorted[len(sorted)-1]
	return stats
}

func percentile(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
