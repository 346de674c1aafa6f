package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/resilience"
)

// FlushFunc delivers one batch to an external system.
type FlushFunc func(ctx context.Context, batch []similarity.Record) error

// BatchSink buffers records and hands them to a FlushFunc in batches of
// size. Each flush is retried with backoff and runs behind a circuit
// breaker, so a dead backend fails fast instead of stalling every worker.
//
// Undelivered records stay pending and go out with the next full batch.
// Once maxPending records are held, Write rejects new ones with
// ErrSinkUnavailable until a flush succeeds.
type BatchSink struct {
	name       string
	size       int
	maxPending int
	flush      FlushFunc
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu          sync.Mutex
	pending     []similarity.Record
	overflowing bool
}

// BatchOption configures a BatchSink.
type BatchOption func(*BatchSink)

func WithRetry(cfg resilience.RetryConfig) BatchOption {
	return func(s *BatchSink) { s.retry = cfg }
}

// WithMaxPending caps the records held while the backend is failing. The
// default is ten batches.
func WithMaxPending(n int) BatchOption {
	return func(s *BatchSink) { s.maxPending = n }
}

func WithBreaker(cfg resilience.CircuitBreakerConfig) BatchOption {
	return func(s *BatchSink) {
		prev := cfg.OnStateChange
		m := s.metrics
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if prev != nil {
				prev(name, to)
			}
		}
		s.breaker = resilience.NewCircuitBreaker(s.name, cfg)
	}
}

func NewBatchSink(name string, size int, flush FlushFunc, m *metrics.Metrics, logger *slog.Logger, opts ...BatchOption) *BatchSink {
	if size <= 0 {
		size = 100
	}
	s := &BatchSink{
		name:    name,
		size:    size,
		flush:   flush,
		metrics: m,
		logger:  logger.With("sink", name),
		pending: make([]similarity.Record, 0, size),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxPending < s.size {
		s.maxPending = 10 * s.size
	}
	if s.breaker == nil {
		WithBreaker(resilience.CircuitBreakerConfig{})(s)
	}
	return s
}

func (s *BatchSink) Write(ctx context.Context, rec similarity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxPending {
		s.metrics.ReportWritesTotal.WithLabelValues(s.name, "rejected").Inc()
		if !s.overflowing {
			s.overflowing = true
			s.logger.Warn("report backlog full, rejecting records", "pending", len(s.pending))
		}
		return fmt.Errorf("%s sink: %w: %d records pending", s.name, apperrors.ErrSinkUnavailable, len(s.pending))
	}
	s.pending = append(s.pending, rec)
	if len(s.pending)%s.size != 0 {
		return nil
	}
	err := s.flushLocked(ctx)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// Kept pending for the next batch.
		return nil
	}
	return err
}

// Flush delivers whatever is buffered.
func (s *BatchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *BatchSink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

// Pending is the number of records not yet delivered.
func (s *BatchSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *BatchSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	err := s.breaker.Execute(func() error {
		return resilience.Retry(ctx, s.name, s.retry, func() error {
			return s.flush(ctx, batch)
		})
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.logger.Debug("report batch held, circuit open", "records", len(batch))
		return fmt.Errorf("%s sink: %w", s.name, err)
	case err != nil:
		s.metrics.ReportWritesTotal.WithLabelValues(s.name, "error").Add(float64(len(batch)))
		s.logger.Error("report batch failed", "records", len(batch), "error", err)
		return fmt.Errorf("%s sink: %w", s.name, err)
	}
	s.metrics.ReportWritesTotal.WithLabelValues(s.name, "ok").Add(float64(len(batch)))
	s.logger.Debug("report batch delivered", "records", len(batch))
	s.pending = make([]similarity.Record, 0, s.size)
	s.overflowing = false
	return nil
}
