package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/tracing"
)

// Summary describes a finished comparison run.
type Summary struct {
	Pairs   int
	Skipped int
	// Failed lists keys that could not be loaded, sorted.
	Failed  []string
	Elapsed time.Duration
	// Top holds each X's best matches when CompareConfig.TopK is set.
	Top map[string][]Record
}

type pair struct {
	x, y string
}

// Comparer scores every ordered pair of a key list on a worker pool and
// streams the records to a Sink.
type Comparer struct {
	cache    *corpus.Cache
	baseline *Baseline
	cfg      config.CompareConfig
	maxN     int
	sink     Sink
	memo     Memo
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	seq    atomic.Int64
	failed sync.Map
}

type ComparerOption func(*Comparer)

// WithMemo consults m before scoring a pair and records fresh scores in it.
func WithMemo(m Memo) ComparerOption {
	return func(c *Comparer) { c.memo = m }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) ComparerOption {
	return func(c *Comparer) { c.now = now }
}

func NewComparer(
	run *runctx.Run,
	cache *corpus.Cache,
	baseline *Baseline,
	cfg config.CompareConfig,
	maxN int,
	sink Sink,
	opts ...ComparerOption,
) *Comparer {
	c := &Comparer{
		cache:    cache,
		baseline: baseline,
		cfg:      cfg,
		maxN:     maxN,
		sink:     sink,
		logger:   run.Component("comparer"),
		metrics:  run.Metrics,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare scores (x, y) for every x and y in keys, x-major in input order,
// skipping x == y when SkipSelf is set. A key that fails to load is logged
// once and every pair involving it is skipped. A sink error aborts the run.
func (c *Comparer) Compare(ctx context.Context, keys []string) (*Summary, error) {
	ctx, span := tracing.StartChildSpan(ctx, "compare")
	defer span.End()
	start := time.Now()

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pairs := make(chan pair, workers*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pairs)
		for _, x := range keys {
			for _, y := range keys {
				if c.cfg.SkipSelf && x == y {
					continue
				}
				select {
				case pairs <- pair{x, y}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	var (
		mu      sync.Mutex
		scored  int
		skipped int
		kept    []Record
	)
	for range workers {
		g.Go(func() error {
			for p := range pairs {
				rec, ok, err := c.comparePair(gctx, p)
				if err != nil {
					return err
				}
				mu.Lock()
				if ok {
					scored++
					if c.cfg.TopK > 0 {
						kept = append(kept, rec)
					}
				} else {
					skipped++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("comparison aborted: %w", err)
	}

	summary := &Summary{
		Pairs:   scored,
		Skipped: skipped,
		Elapsed: time.Since(start),
	}
	c.failed.Range(func(k, _ any) bool {
		summary.Failed = append(summary.Failed, k.(string))
		return true
	})
	sort.Strings(summary.Failed)
	if c.cfg.TopK > 0 {
		summary.Top = TopMatches(kept, c.cfg.TopK)
	}

	span.SetAttr("pairs", summary.Pairs)
	span.SetAttr("skipped", summary.Skipped)
	c.logger.Info("comparison complete",
		"documents", len(keys),
		"pairs", summary.Pairs,
		"skipped", summary.Skipped,
		"failed_documents", len(summary.Failed),
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

func (c *Comparer) comparePair(ctx context.Context, p pair) (Record, bool, error) {
	x, ok := c.load(ctx, p.x)
	if !ok {
		return Record{}, false, ctx.Err()
	}
	y, ok := c.load(ctx, p.y)
	if !ok {
		return Record{}, false, ctx.Err()
	}

	start := time.Now()
	raw, score, err := c.score(ctx, x, y)
	if err != nil {
		return Record{}, false, err
	}
	c.metrics.ComparisonsTotal.Inc()
	c.metrics.ComparisonDuration.Observe(time.Since(start).Seconds())

	rec := Record{
		Seq:       c.seq.Add(1) - 1,
		Timestamp: c.now(),
		X:         x.Meta,
		Y:         y.Meta,
		RawSum:    raw,
		Score:     score,
	}
	if err := c.sink.Write(ctx, rec); err != nil {
		return Record{}, false, fmt.Errorf("writing record %s/%s: %w", x.Meta.ID, y.Meta.ID, err)
	}
	return rec, true, nil
}

func (c *Comparer) score(ctx context.Context, x, y Doc) (float64, float64, error) {
	if c.memo != nil {
		if raw, score, ok := c.memo.Lookup(ctx, x.Meta.ID, y.Meta.ID, c.maxN); ok {
			c.metrics.ScoreMemoHitsTotal.Inc()
			return raw, score, nil
		}
	}
	var trace func(Contribution)
	if c.cfg.Verbose {
		trace = func(ct Contribution) {
			c.logger.Debug("contribution",
				"x", x.Meta.ID,
				"y", y.Meta.ID,
				"ngram", ct.Key,
				"n_x", ct.CountX,
				"n_y", ct.CountY,
				"rarity", ct.Rarity,
				"value", ct.Value,
			)
		}
	}
	raw, score := ScoreTrace(x, y, c.baseline, trace)
	if c.memo != nil {
		c.memo.Store(ctx, x.Meta.ID, y.Meta.ID, c.maxN, raw, score)
	}
	return raw, score, ctx.Err()
}

// load fetches key through the cache. Failures are logged on first sight
// only.
func (c *Comparer) load(ctx context.Context, key string) (Doc, bool) {
	if _, failed := c.failed.Load(key); failed {
		return Doc{}, false
	}
	meta, trie, err := c.cache.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return Doc{}, false
		}
		if _, seen := c.failed.LoadOrStore(key, struct{}{}); !seen {
			c.metrics.DocsFailedTotal.WithLabelValues("compare").Inc()
			c.logger.Error("document skipped", "key", key, "error", err)
		}
		return Doc{}, false
	}
	return Doc{Meta: meta, Trie: trie}, true
}
