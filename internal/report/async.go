package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("report sink closed")

type flusher interface {
	Flush(ctx context.Context) error
}

// AsyncSink decouples comparison workers from a slow sink. Records are queued
// on a bounded channel and written by one background goroutine; when the
// queue is full Write blocks until there is room or ctx ends. Nothing is
// dropped. If the inner sink supports Flush it is also flushed every
// interval.
type AsyncSink struct {
	inner    Sink
	ch       chan similarity.Record
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}

	mu       sync.Mutex
	closed   bool
	lastErr  error
	failures int
}

// NewAsyncSink starts the writer goroutine. It runs until Close.
func NewAsyncSink(inner Sink, buffer int, interval time.Duration, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &AsyncSink{
		inner:    inner,
		ch:       make(chan similarity.Record, buffer),
		interval: interval,
		logger:   logger.With("component", "async-sink"),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				return
			}
			if err := s.inner.Write(ctx, rec); err != nil {
				s.setErr(err)
			} else {
				s.recovered()
			}
		case <-ticker.C:
			if f, ok := s.inner.(flusher); ok {
				if err := f.Flush(ctx); err != nil {
					s.setErr(err)
				}
			}
		}
	}
}

// setErr records err. Only the first failure of a run is logged.
func (s *AsyncSink) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.failures++
	first := s.failures == 1
	s.mu.Unlock()
	if first {
		s.logger.Error("async report write failed", "error", err)
	}
}

func (s *AsyncSink) recovered() {
	s.mu.Lock()
	n := s.failures
	s.failures = 0
	s.mu.Unlock()
	if n > 0 {
		s.logger.Info("async report writes recovered", "failed_writes", n)
	}
}

// Err returns the most recent error from the inner sink.
func (s *AsyncSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Write queues rec.
func (s *AsyncSink) Write(ctx context.Context, rec similarity.Record) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}

	select {
	case s.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued records.
func (s *AsyncSink) Pending() int {
	return len(s.ch)
}

// Close drains the queue, then closes the inner sink. Write must not be
// called concurrently with Close.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ch)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(s.Err(), s.inner.Close(ctx))
}
