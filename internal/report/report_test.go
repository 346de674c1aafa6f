package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/resilience"
)

func record(seq int64) similarity.Record {
	return similarity.Record{
		Seq:       seq,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		X:         corpus.Metadata{ID: "alpha", Year: 1851, ByteSize: 120, WordCount: 20},
		Y:         corpus.Metadata{ID: "beta", Year: 1902, ByteSize: 80, WordCount: 15},
		RawSum:    4,
		Score:     0.8,
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []similarity.Record
	closed  bool
	err     error
}

func (s *memorySink) Write(_ context.Context, rec similarity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) seqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.records))
	for i, r := range s.records {
		out[i] = r.Seq
	}
	return out
}

func TestTSVSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewTSVSink(&buf)
	require.NoError(t, s.Write(context.Background(), record(7)))
	assert.Empty(t, buf.String(), "lines are buffered until flush")
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, "7\t2024-03-01T12:00:00Z\talpha\t1851\t120\t20\tbeta\t1902\t80\t15\t4\t0.8\n", buf.String())
}

func TestMultiSink(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	m := MultiSink{a, b}
	require.NoError(t, m.Write(context.Background(), record(1)))
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []int64{1}, a.seqs())
	assert.Equal(t, []int64{1}, b.seqs())
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	b.err = errors.New("down")
	assert.ErrorContains(t, m.Write(context.Background(), record(2)), "down")
}

func TestBatchSinkFlushesBySizeAndOnClose(t *testing.T) {
	m := metrics.NewUnregistered()
	var batches [][]int64
	flush := func(_ context.Context, batch []similarity.Record) error {
		var seqs []int64
		for _, r := range batch {
			seqs = append(seqs, r.Seq)
		}
		batches = append(batches, seqs)
		return nil
	}
	s := NewBatchSink("test", 2, flush, m, logger.Discard())
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Write(ctx, record(i)))
	}
	assert.Equal(t, [][]int64{{1, 2}}, batches)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, [][]int64{{1, 2}, {3}}, batches)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReportWritesTotal.WithLabelValues("test", "ok")))
}

func TestBatchSinkRetriesTransientFailure(t *testing.T) {
	m := metrics.NewUnregistered()
	calls := 0
	flush := func(context.Context, []similarity.Record) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}
	s := NewBatchSink("flaky", 1, flush, m, logger.Discard(),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}))
	require.NoError(t, s.Write(context.Background(), record(1)))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportWritesTotal.WithLabelValues("flaky", "ok")))
}

func TestBatchSinkOpensCircuit(t *testing.T) {
	m := metrics.NewUnregistered()
	calls := 0
	flush := func(context.Context, []similarity.Record) error {
		calls++
		return errors.New("connection refused")
	}
	s := NewBatchSink("db", 1, flush, m, logger.Discard(),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}))
	ctx := context.Background()

	assert.Error(t, s.Write(ctx, record(1)))
	assert.Error(t, s.Write(ctx, record(2)))
	assert.NoError(t, s.Write(ctx, record(3)), "an open circuit holds the record")
	assert.Equal(t, 2, calls, "an open circuit does not call the backend")
	assert.Equal(t, 3, s.Pending())
	assert.ErrorIs(t, s.Flush(ctx), resilience.ErrCircuitOpen)
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("db")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReportWritesTotal.WithLabelValues("db", "error")))
}

// levelCounter counts records per level.
type levelCounter struct {
	mu     sync.Mutex
	counts map[slog.Level]int
}

func (h *levelCounter) Enabled(context.Context, slog.Level) bool { return true }
func (h *levelCounter) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.counts[r.Level]++
	h.mu.Unlock()
	return nil
}
func (h *levelCounter) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *levelCounter) WithGroup(string) slog.Handler      { return h }

func (h *levelCounter) at(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}

func TestBatchSinkBoundsBacklogWhileCircuitOpen(t *testing.T) {
	m := metrics.NewUnregistered()
	logs := &levelCounter{counts: map[slog.Level]int{}}
	calls := 0
	flush := func(context.Context, []similarity.Record) error {
		calls++
		return errors.New("connection refused")
	}
	s := NewBatchSink("db", 2, flush, m, slog.New(logs),
		WithMaxPending(6),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}))
	ctx := context.Background()

	rejected := 0
	for i := range int64(200) {
		if err := s.Write(ctx, record(i)); errors.Is(err, apperrors.ErrSinkUnavailable) {
			rejected++
		}
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 6, s.Pending())
	assert.Equal(t, 194, rejected)
	assert.Equal(t, 194.0, testutil.ToFloat64(m.ReportWritesTotal.WithLabelValues("db", "rejected")))
	assert.Equal(t, 1, logs.at(slog.LevelError))
	assert.Equal(t, 1, logs.at(slog.LevelWarn))
}

func TestBatchSinkRecoversAfterBacklog(t *testing.T) {
	m := metrics.NewUnregistered()
	down := true
	var delivered int
	flush := func(_ context.Context, batch []similarity.Record) error {
		if down {
			return errors.New("connection refused")
		}
		delivered += len(batch)
		return nil
	}
	s := NewBatchSink("db", 2, flush, m, logger.Discard(),
		WithMaxPending(4),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: time.Hour}))
	ctx := context.Background()

	for i := range int64(5) {
		_ = s.Write(ctx, record(i))
	}
	assert.Equal(t, 4, s.Pending())

	down = false
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Write(ctx, record(5)))
	assert.Equal(t, 4, delivered)
	assert.Equal(t, 1, s.Pending())
}

func TestAsyncSinkLogsFirstFailureOnly(t *testing.T) {
	logs := &levelCounter{counts: map[slog.Level]int{}}
	inner := &memorySink{err: errors.New("disk full")}
	s := NewAsyncSink(inner, 16, time.Hour, slog.New(logs))
	ctx := context.Background()
	for i := range int64(10) {
		require.NoError(t, s.Write(ctx, record(i)))
	}
	assert.ErrorContains(t, s.Close(ctx), "disk full")
	assert.Equal(t, 1, logs.at(slog.LevelError))
}

func TestAsyncSinkDeliversInOrder(t *testing.T) {
	inner := &memorySink{}
	s := NewAsyncSink(inner, 4, time.Hour, logger.Discard())
	ctx := context.Background()
	var want []int64
	for i := int64(0); i < 100; i++ {
		require.NoError(t, s.Write(ctx, record(i)))
		want = append(want, i)
	}
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, want, inner.seqs())
	assert.True(t, inner.closed)
	assert.ErrorIs(t, s.Write(ctx, record(101)), ErrSinkClosed)
	assert.NoError(t, s.Close(ctx))
}

type blockingSink struct {
	memorySink
	release chan struct{}
}

func (s *blockingSink) Write(ctx context.Context, rec similarity.Record) error {
	<-s.release
	return s.memorySink.Write(ctx, rec)
}

func TestAsyncSinkBlocksWhenFull(t *testing.T) {
	inner := &blockingSink{release: make(chan struct{})}
	s := NewAsyncSink(inner, 1, time.Hour, logger.Discard())
	bg := context.Background()

	require.NoError(t, s.Write(bg, record(1)))
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Write(bg, record(2)))

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Write(ctx, record(3)), context.DeadlineExceeded)

	close(inner.release)
	require.NoError(t, s.Close(bg))
	assert.Equal(t, []int64{1, 2}, inner.seqs())
}

func TestAsyncSinkReportsInnerError(t *testing.T) {
	inner := &memorySink{err: errors.New("disk full")}
	s := NewAsyncSink(inner, 4, time.Hour, logger.Discard())
	require.NoError(t, s.Write(context.Background(), record(1)))
	assert.ErrorContains(t, s.Close(context.Background()), "disk full")
}

func TestReportRowsMatchInsertColumns(t *testing.T) {
	rows := reportRows("run-1", []similarity.Record{record(3)})
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], strings.Count(insertReport, "$"))
	assert.Equal(t, []any{
		"run-1", int64(3), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"alpha", 1851, int64(120), 20,
		"beta", 1902, int64(80), 15,
		4.0, 0.8,
	}, rows[0])
}

type fakePublisher struct {
	events []kafka.Event
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.events = append(p.events, events...)
	return nil
}

func TestKafkaFlush(t *testing.T) {
	p := &fakePublisher{}
	flush := KafkaFlush(p, "run-1")
	require.NoError(t, flush(context.Background(), []similarity.Record{record(1), record(2)}))
	require.Len(t, p.events, 2)
	assert.Equal(t, "alpha", p.events[0].Key)

	msgs, err := kafka.EncodeEvents(p.events)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Value, &body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, 2.0, body["seq"])
	assert.Equal(t, 0.8, body["score"])
	assert.Equal(t, "beta", body["y"].(map[string]any)["id"])
}

type fakeKV struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestScoreCacheForgetOnlyItsScope(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	full := NewScoreCache(kv, "base.txt@3/limit=0", time.Minute, logger.Discard())
	limited := NewScoreCache(kv, "base.txt@3/limit=10", time.Minute, logger.Discard())
	full.Store(ctx, "a", "b", 3, 4, 0.8)
	full.Store(ctx, "b", "a", 3, 4, 0.8)
	limited.Store(ctx, "a", "b", 3, 1, 0.1)

	n, err := full.Forget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, _, ok := full.Lookup(ctx, "a", "b", 3)
	assert.False(t, ok)
	_, score, ok := limited.Lookup(ctx, "a", "b", 3)
	require.True(t, ok)
	assert.Equal(t, 0.1, score)
}

func TestScoreCache(t *testing.T) {
	kv := newFakeKV()
	c := NewScoreCache(kv, "base.txt@3", time.Minute, logger.Discard())
	ctx := context.Background()

	_, _, ok := c.Lookup(ctx, "a", "b", 3)
	assert.False(t, ok)

	c.Store(ctx, "a", "b", 3, 4, 0.8)
	assert.Equal(t, "sim:base.txt@3|a|b|3", c.Key("a", "b", 3))
	assert.Equal(t, "4 0.8", kv.data["sim:base.txt@3|a|b|3"])
	assert.Equal(t, time.Minute, kv.ttls["sim:base.txt@3|a|b|3"])

	raw, score, ok := c.Lookup(ctx, "a", "b", 3)
	require.True(t, ok)
	assert.Equal(t, 4.0, raw)
	assert.Equal(t, 0.8, score)

	_, _, ok = c.Lookup(ctx, "b", "a", 3)
	assert.False(t, ok, "pairs are directed")
	_, _, ok = c.Lookup(ctx, "a", "b", 2)
	assert.False(t, ok)
}

func TestScoreCacheTreatsFailuresAsMisses(t *testing.T) {
	kv := newFakeKV()
	c := NewScoreCache(kv, "", 0, logger.Discard())
	ctx := context.Background()

	kv.data[c.Key("a", "b", 1)] = "garbage"
	_, _, ok := c.Lookup(ctx, "a", "b", 1)
	assert.False(t, ok)

	kv.err = errors.New("connection reset")
	_, _, ok = c.Lookup(ctx, "a", "b", 1)
	assert.False(t, ok)
	c.Store(ctx, "a", "b", 1, 1, 1)
	assert.Equal(t, "sim:a|b|1", c.Key("a", "b", 1))
}

var _ similarity.Memo = (*ScoreCache)(nil)
var _ Sink = (*BatchSink)(nil)
var _ Sink = (*AsyncSink)(nil)
var _ Sink = (*TSVSink)(nil)
