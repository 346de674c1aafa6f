// Package pipeline streams documents from a Source into an aggregate n-gram
// trie. One producer feeds a bounded queue and a fixed pool of consumers
// drains it; the producer closing the queue is the only termination signal.
//
// Two merge strategies are supported. "private" gives each consumer its own
// trie and unions them after the pool exits, so consumers never contend.
// "shared" builds a trie per document and unions it into the aggregate under
// the aggregate's lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/tracing"
)

// Failure records a document that was skipped.
type Failure struct {
	Descriptor Descriptor
	Err        error
}

// Result is the outcome of a Run.
type Result struct {
	Trie      *ngram.Trie
	Processed int
	Failures  []Failure
	// Refs maps a reference number (the descriptor's Seq) to a document ID
	// for every processed document.
	Refs    map[uint32]string
	Elapsed time.Duration
	Stats   Stats
}

type Pipeline struct {
	cfg       config.PipelineConfig
	maxN      int
	trackRefs bool
	source    corpus.Source
	aggregate *ngram.Trie
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	processed int
	failures  []Failure
	refs      map[uint32]string
	latencies []time.Duration
}

func New(run *runctx.Run, cfg *config.Config, source corpus.Source) *Pipeline {
	var opts []ngram.Option
	if cfg.Ngram.TrackRefs {
		opts = append(opts, ngram.WithRefs())
	}
	return &Pipeline{
		cfg:       cfg.Pipeline,
		maxN:      cfg.Ngram.MaxN,
		trackRefs: cfg.Ngram.TrackRefs,
		source:    source,
		aggregate: ngram.New(opts...),
		logger:    run.Component("pipeline"),
		metrics:   run.Metrics,
	}
}

// Restrict seeds the aggregate from text and freezes its vocabulary: from
// then on only n-grams already present are counted. It returns the number
// of distinct n-grams in the restriction set.
func (p *Pipeline) Restrict(text string) int {
	p.aggregate.InsertText(text, p.maxN, ngram.Additive)
	p.aggregate.SetMode(ngram.RestrictedUnion)
	size := p.aggregate.Size()
	p.logger.Info("vocabulary restricted", "ngrams", size)
	return size
}

// MaxN is the highest n-gram order counted.
func (p *Pipeline) MaxN() int {
	return p.maxN
}

// Aggregate is the trie documents are folded into.
func (p *Pipeline) Aggregate() *ngram.Trie {
	return p.aggregate
}

// Run ingests every descriptor. Documents that fail to load are logged,
// counted and skipped; Run itself only fails when ctx ends.
func (p *Pipeline) Run(ctx context.Context, descs []Descriptor) (*Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "ingest")
	defer span.End()

	start := time.Now()
	p.mu.Lock()
	p.processed = 0
	p.failures = nil
	p.refs = make(map[uint32]string, len(descs))
	p.latencies = make([]time.Duration, 0, len(descs))
	p.mu.Unlock()

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := make(chan Descriptor, p.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, d := range descs {
			select {
			case queue <- d:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	locals := make([]*ngram.Trie, workers)
	for i := range workers {
		if p.cfg.Strategy != config.StrategyShared {
			locals[i] = p.workerTrie()
		}
		g.Go(func() error {
			for d := range queue {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := p.ingest(gctx, d, locals[i], start); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion aborted: %w", err)
	}

	for _, local := range locals {
		if local != nil {
			local.UnionInto(p.aggregate)
		}
	}

	p.mu.Lock()
	res := &Result{
		Trie:      p.aggregate,
		Processed: p.processed,
		Failures:  p.failures,
		Refs:      p.refs,
		Elapsed:   time.Since(start),
		Stats:     summarize(p.latencies),
	}
	p.mu.Unlock()

	size := p.aggregate.Size()
	p.metrics.TrieEntries.WithLabelValues("aggregate").Set(float64(size))
	span.SetAttr("documents", res.Processed)
	span.SetAttr("failures", len(res.Failures))
	span.SetAttr("ngrams", size)
	p.logger.Info("ingestion complete",
		"processed", res.Processed,
		"failed", len(res.Failures),
		"ngrams", size,
		"elapsed", res.Elapsed,
		"p50", res.Stats.P50,
		"p95", res.Stats.P95,
	)
	return res, nil
}

// workerTrie is a consumer's private trie: empty when additive, a zero-count
// copy of the vocabulary when restricted.
func (p *Pipeline) workerTrie() *ngram.Trie {
	if p.aggregate.Mode() == ngram.RestrictedUnion {
		return p.aggregate.CloneKeys()
	}
	if p.trackRefs {
		return ngram.New(ngram.WithRefs())
	}
	return ngram.New()
}

func (p *Pipeline) ingest(ctx context.Context, d Descriptor, local *ngram.Trie, runStart time.Time) error {
	docStart := time.Now()
	doc, err := p.source.Load(ctx, d.Path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p.fail(d, err)
		return nil
	}

	id := d.ID
	if id == "" {
		id = doc.Meta.ID
	}
	ref := uint32(d.Seq)
	mode := p.aggregate.Mode()

	var size int
	if local != nil {
		local.InsertDocument(doc.Text, p.maxN, mode, ref)
		size = local.Size()
	} else {
		var docTrie *ngram.Trie
		if p.trackRefs {
			docTrie = ngram.New(ngram.WithRefs())
		} else {
			docTrie = ngram.New()
		}
		docTrie.InsertDocument(doc.Text, p.maxN, ngram.Additive, ref)
		docTrie.UnionInto(p.aggregate)
		size = p.aggregate.Size()
	}

	if p.cfg.GarbageThreshold > 0 {
		ratio := tokenizer.GarbageRatio(doc.Text)
		if tokenizer.IsGarbage(ratio, p.cfg.GarbageThreshold) {
			p.metrics.GarbageDocsTotal.Inc()
			p.logger.Warn("document looks like garbage",
				"seq", d.Seq,
				"doc_id", id,
				"ratio", ratio,
				"threshold", p.cfg.GarbageThreshold,
			)
		}
	}

	took := time.Since(docStart)
	p.metrics.DocsIngestedTotal.Inc()
	p.metrics.DocIngestDuration.Observe(took.Seconds())

	p.mu.Lock()
	p.processed++
	p.refs[ref] = id
	p.latencies = append(p.latencies, took)
	processed := p.processed
	p.mu.Unlock()

	elapsed := time.Since(runStart)
	p.logger.Info("document ingested",
		"seq", d.Seq,
		"doc_id", id,
		"processed", processed,
		"elapsed", elapsed.Round(time.Millisecond),
		"avg_per_doc", (elapsed / time.Duration(processed)).Round(time.Millisecond),
		"ngrams", size,
	)
	return nil
}

func (p *Pipeline) fail(d Descriptor, err error) {
	p.metrics.DocsFailedTotal.WithLabelValues("load").Inc()
	p.logger.Error("document skipped",
		"seq", d.Seq,
		"doc_id", d.ID,
		"path", d.Path,
		"error", err,
	)
	p.mu.Lock()
	p.failures = append(p.failures, Failure{Descriptor: d, Err: err})
	p.mu.Unlock()
}
