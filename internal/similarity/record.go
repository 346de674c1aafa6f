package similarity

import (
	"container/heap"
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
)

// Record is one line of the batch report: the score of X against Y.
type Record struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	X         corpus.Metadata `json:"x"`
	Y         corpus.Metadata `json:"y"`
	RawSum    float64         `json:"raw_sum"`
	Score     float64         `json:"score"`
}

// Sink receives records as pairs are scored. Write may be called from
// several goroutines.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Write(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Memo remembers pair scores across runs. A miss or a backend failure both
// report ok == false.
type Memo interface {
	Lookup(ctx context.Context, x, y string, maxN int) (raw, score float64, ok bool)
	Store(ctx context.Context, x, y string, maxN int, raw, score float64)
}

// TopMatches returns, for every X, its k best-scoring records in descending
// score order. Ties go to the lower Y id.
func TopMatches(records []Record, k int) map[string][]Record {
	if k <= 0 {
		k = 10
	}
	heaps := make(map[string]*recordHeap)
	for _, rec := range records {
		h, ok := heaps[rec.X.ID]
		if !ok {
			h = &recordHeap{}
			heaps[rec.X.ID] = h
		}
		heap.Push(h, rec)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	top := make(map[string][]Record, len(heaps))
	for id, h := range heaps {
		out := make([]Record, h.Len())
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = heap.Pop(h).(Record)
		}
		top[id] = out
	}
	return top
}

// recordHeap is a min-heap on score, so the weakest match is evicted first.
type recordHeap []Record

func (h recordHeap) Len() int { return len(h) }

func (h recordHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Y.ID > h[j].Y.ID
}

func (h recordHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) {
	*h = append(*h, x.(Record))
}

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
