package corpus

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
)

const defaultMaxEntries = 1024

// Entry is what the cache stores per key. Text is empty unless the cache
// keeps text.
type Entry struct {
	Meta Metadata
	Trie *ngram.Trie
	Text string
}

// Cache loads a document once, builds its trie over orders 1..maxN and keeps
// the result. With caching disabled every call reloads and retokenizes,
// trading time for memory on large libraries.
//
// Stored tries are shared between callers and must be treated as read-only.
type Cache struct {
	source  Source
	maxN    int
	cfg     config.CacheConfig
	entries *lru.Cache[string, *Entry]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewCache(run *runctx.Run, source Source, maxN int, cfg config.CacheConfig) (*Cache, error) {
	c := &Cache{
		source:  source,
		maxN:    maxN,
		cfg:     cfg,
		logger:  run.Component("corpus-cache"),
		metrics: run.Metrics,
	}
	if !cfg.Enabled {
		return c, nil
	}
	size := cfg.MaxEntries
	if size <= 0 {
		size = defaultMaxEntries
	}
	entries, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating corpus cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Enabled reports whether entries are retained between calls.
func (c *Cache) Enabled() bool {
	return c.entries != nil
}

// Len is the number of cached entries.
func (c *Cache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Get returns the metadata and trie for key.
func (c *Cache) Get(ctx context.Context, key string) (Metadata, *ngram.Trie, error) {
	e, err := c.entry(ctx, key)
	if err != nil {
		return Metadata{}, nil, err
	}
	return e.Meta, e.Trie, nil
}

// GetWithText is Get that also returns the raw text. Unless text is kept,
// the text is reread from the source while the trie comes from the cache.
func (c *Cache) GetWithText(ctx context.Context, key string) (Metadata, *ngram.Trie, string, error) {
	e, err := c.entry(ctx, key)
	if err != nil {
		return Metadata{}, nil, "", err
	}
	if e.Text != "" || !c.Enabled() || c.cfg.KeepText {
		return e.Meta, e.Trie, e.Text, nil
	}
	doc, err := c.source.Load(ctx, key)
	if err != nil {
		return Metadata{}, nil, "", err
	}
	return e.Meta, e.Trie, doc.Text, nil
}

func (c *Cache) entry(ctx context.Context, key string) (*Entry, error) {
	if c.entries == nil {
		c.metrics.CacheMissesTotal.Inc()
		return c.load(ctx, key)
	}
	if e, ok := c.entries.Get(key); ok {
		c.metrics.CacheHitsTotal.Inc()
		return e, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.entries.Get(key); ok {
			return e, nil
		}
		c.metrics.CacheMissesTotal.Inc()
		e, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if c.cfg.KeepText {
			c.entries.Add(key, e)
		} else {
			c.entries.Add(key, &Entry{Meta: e.Meta, Trie: e.Trie})
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Cache) load(ctx context.Context, key string) (*Entry, error) {
	doc, err := c.source.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	trie := ngram.New()
	trie.InsertText(doc.Text, c.maxN, ngram.Additive)

	meta := doc.Meta
	meta.WordCount = tokenizer.WordCount(doc.Text)
	meta.GarbageRatio = tokenizer.GarbageRatio(doc.Text)
	c.logger.Debug("document loaded",
		"key", key,
		"doc_id", meta.ID,
		"words", meta.WordCount,
		"ngrams", trie.Size(),
	)
	return &Entry{Meta: meta, Trie: trie, Text: doc.Text}, nil
}
