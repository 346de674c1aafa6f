package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
)

func trieOf(counts map[string]uint64) *ngram.Trie {
	t := ngram.New()
	for k, v := range counts {
		t.Set(k, v)
	}
	return t
}

func TestRaritySentinel(t *testing.T) {
	b, err := NewBaseline(trieOf(map[string]uint64{"the": 5}), 10)
	require.NoError(t, err)

	assert.Equal(t, 10.0*1_000_000, b.Rarity("xyz"))
	assert.Equal(t, 0.5, b.Rarity("the"))
}

func TestNewBaselineRejectsBadInput(t *testing.T) {
	_, err := NewBaseline(ngram.New(), 0)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = NewBaseline(nil, 3)
	assert.ErrorIs(t, err, apperrors.ErrBaseline)
}

func TestScore(t *testing.T) {
	b, err := NewBaseline(trieOf(map[string]uint64{"a": 2, "a b": 1}), 2)
	require.NoError(t, err)

	x := Doc{Meta: corpus.Metadata{WordCount: 3}, Trie: trieOf(map[string]uint64{"a": 4, "a b": 1})}
	y := Doc{Meta: corpus.Metadata{WordCount: 4}, Trie: trieOf(map[string]uint64{"a": 1, "a b": 1, "c": 7})}

	raw, score := Score(x, y, b)
	// a: sqrt(4*1)/(2/2) = 2; a b: sqrt(1*1)/(1/2) = 2; c absent from x.
	assert.InDelta(t, 4.0, raw, 1e-12)
	assert.InDelta(t, 4.0/5.0, score, 1e-12)
}

func TestScoreAbsentFromBaselineIsNegligible(t *testing.T) {
	b, err := NewBaseline(ngram.New(), 10)
	require.NoError(t, err)

	x := Doc{Meta: corpus.Metadata{WordCount: 1}, Trie: trieOf(map[string]uint64{"zz": 9})}
	raw, _ := Score(x, x, b)
	assert.InDelta(t, 9.0/1e7, raw, 1e-15)
}

func TestScoreIteratesOnlySecondDocument(t *testing.T) {
	b, err := NewBaseline(trieOf(map[string]uint64{"g1": 1, "g2": 1}), 1)
	require.NoError(t, err)

	x := Doc{Meta: corpus.Metadata{WordCount: 1}, Trie: trieOf(map[string]uint64{"g1": 2})}
	y := Doc{Meta: corpus.Metadata{WordCount: 2}, Trie: trieOf(map[string]uint64{"g1": 2, "g2": 5})}

	collect := func(a, b2 Doc) []Contribution {
		var out []Contribution
		ScoreTrace(a, b2, b, func(c Contribution) { out = append(out, c) })
		return out
	}

	xy := collect(x, y)
	require.Len(t, xy, 2)
	assert.Equal(t, "g1", xy[0].Key)
	assert.Equal(t, "g2", xy[1].Key)
	assert.Zero(t, xy[1].CountX)
	assert.Zero(t, xy[1].Value)

	yx := collect(y, x)
	require.Len(t, yx, 1)
	assert.Equal(t, "g1", yx[0].Key)
}

func TestScoreZeroWordsIsZero(t *testing.T) {
	b, err := NewBaseline(ngram.New(), 1)
	require.NoError(t, err)
	empty := Doc{Trie: ngram.New()}

	raw, score := Score(empty, empty, b)
	assert.Zero(t, raw)
	assert.Zero(t, score)
	assert.False(t, math.IsNaN(Normalize(3, 0, 0)))
}

func TestTopMatches(t *testing.T) {
	rec := func(x, y string, score float64) Record {
		return Record{X: corpus.Metadata{ID: x}, Y: corpus.Metadata{ID: y}, Score: score}
	}
	top := TopMatches([]Record{
		rec("a", "b", 0.1),
		rec("a", "c", 0.9),
		rec("a", "d", 0.5),
		rec("a", "e", 0.5),
		rec("b", "a", 0.2),
	}, 3)

	require.Len(t, top["a"], 3)
	assert.Equal(t, "c", top["a"][0].Y.ID)
	assert.Equal(t, "d", top["a"][1].Y.ID)
	assert.Equal(t, "e", top["a"][2].Y.ID)
	assert.Len(t, top["b"], 1)
}

// countingHandler counts error records.
type countingHandler struct {
	mu     sync.Mutex
	errors int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelError {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
	}
	return nil
}
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

type collector struct {
	mu      sync.Mutex
	records []Record
}

func (c *collector) Write(_ context.Context, rec Record) error {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()
	return nil
}

func comparerFixture(t *testing.T, run *runctx.Run) *corpus.Cache {
	t.Helper()
	src := corpus.NewMemorySource()
	src.Add("a", "the river ran past the mill and the river ran on", corpus.Metadata{Year: 1850})
	src.Add("b", "the river ran dry before the mill was built", corpus.Metadata{Year: 1901})
	src.Add("c", "nothing in common here at all", corpus.Metadata{})
	cache, err := corpus.NewCache(run, src, 3, config.CacheConfig{Enabled: true})
	require.NoError(t, err)
	return cache
}

func TestComparerSkipsSelfAndFailures(t *testing.T) {
	handler := &countingHandler{}
	run := runctx.ForTest(slog.New(handler))
	cache := comparerFixture(t, run)
	b, err := NewBaseline(trieOf(map[string]uint64{"the river": 1, "the": 3}), 3)
	require.NoError(t, err)

	sink := &collector{}
	cfg := config.CompareConfig{Workers: 3, SkipSelf: true, TopK: 1}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewComparer(run, cache, b, cfg, 3, sink, WithClock(func() time.Time { return fixed }))

	summary, err := c.Compare(context.Background(), []string{"a", "b", "missing", "c"})
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Pairs)
	assert.Equal(t, 6, summary.Skipped)
	assert.Equal(t, []string{"missing"}, summary.Failed)
	assert.Equal(t, 1, handler.errors)
	require.Len(t, sink.records, 6)

	seqs := map[int64]bool{}
	for _, rec := range sink.records {
		assert.NotEqual(t, rec.X.ID, rec.Y.ID)
		assert.Equal(t, fixed, rec.Timestamp)
		seqs[rec.Seq] = true
	}
	assert.Len(t, seqs, 6)

	require.Len(t, summary.Top["a"], 1)
	assert.Equal(t, "b", summary.Top["a"][0].Y.ID)
	assert.Equal(t, 6.0, testutil.ToFloat64(run.Metrics.ComparisonsTotal))
}

func TestComparerIncludesSelfWhenAsked(t *testing.T) {
	run := runctx.ForTest(nil)
	cache := comparerFixture(t, run)
	b, err := NewBaseline(ngram.New(), 1)
	require.NoError(t, err)

	sink := &collector{}
	c := NewComparer(run, cache, b, config.CompareConfig{Workers: 1}, 3, sink)
	summary, err := c.Compare(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Pairs)

	// one worker drains pairs in x-major order
	got := make([][2]string, 0, 4)
	for _, rec := range sink.records {
		got = append(got, [2]string{rec.X.ID, rec.Y.ID})
	}
	assert.Equal(t, [][2]string{{"a", "a"}, {"a", "b"}, {"b", "a"}, {"b", "b"}}, got)
}

type fakeMemo struct {
	mu     sync.Mutex
	scores map[string][2]float64
	stored int
}

func (m *fakeMemo) Lookup(_ context.Context, x, y string, _ int) (float64, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[x+"|"+y]
	return s[0], s[1], ok
}

func (m *fakeMemo) Store(_ context.Context, x, y string, _ int, raw, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[x+"|"+y] = [2]float64{raw, score}
	m.stored++
}

func TestComparerUsesMemo(t *testing.T) {
	run := runctx.ForTest(nil)
	cache := comparerFixture(t, run)
	b, err := NewBaseline(ngram.New(), 1)
	require.NoError(t, err)

	memo := &fakeMemo{scores: map[string][2]float64{"a|b": {42, 0.42}}}
	sink := &collector{}
	c := NewComparer(run, cache, b, config.CompareConfig{Workers: 2, SkipSelf: true}, 3, sink, WithMemo(memo))

	_, err = c.Compare(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, memo.stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(run.Metrics.ScoreMemoHitsTotal))
	for _, rec := range sink.records {
		if rec.X.ID == "a" {
			assert.Equal(t, 0.42, rec.Score)
		}
	}
}

func TestComparerSinkErrorAborts(t *testing.T) {
	run := runctx.ForTest(nil)
	cache := comparerFixture(t, run)
	b, err := NewBaseline(ngram.New(), 1)
	require.NoError(t, err)

	boom := errors.New("disk full")
	sink := SinkFunc(func(context.Context, Record) error { return boom })
	c := NewComparer(run, cache, b, config.CompareConfig{Workers: 2, SkipSelf: true}, 3, sink)

	_, err = c.Compare(context.Background(), []string{"a", "b", "c"})
	assert.ErrorIs(t, err, boom)
}

func TestComparerParallelMatchesSequential(t *testing.T) {
	words := []string{"mill", "river", "alpha", "zeta", "delta", "bravo", "stone", "ash"}
	src := corpus.NewMemorySource()
	keys := make([]string, 0, 40)
	for i := range 40 {
		key := fmt.Sprintf("doc%02d", i)
		text := ""
		for j := range 12 {
			text += words[(i*3+j*(i%5+1))%len(words)] + " "
		}
		src.Add(key, text, corpus.Metadata{})
		keys = append(keys, key)
	}
	b, err := NewBaseline(trieOf(map[string]uint64{"river": 2, "zeta": 1, "mill stone": 1}), 4)
	require.NoError(t, err)

	scores := func(workers int) map[string]float64 {
		run := runctx.ForTest(nil)
		cache, err := corpus.NewCache(run, src, 2, config.CacheConfig{Enabled: true})
		require.NoError(t, err)
		sink := &collector{}
		cfg := config.CompareConfig{Workers: workers, SkipSelf: true}
		_, err = NewComparer(run, cache, b, cfg, 2, sink).Compare(context.Background(), keys)
		require.NoError(t, err)
		out := make(map[string]float64, len(sink.records))
		for _, rec := range sink.records {
			out[rec.X.ID+"|"+rec.Y.ID] = rec.RawSum
		}
		return out
	}

	sequential := scores(1)
	require.Len(t, sequential, 40*39)
	assert.Equal(t, sequential, scores(8))
}
