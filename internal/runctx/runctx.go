// Package runctx carries the per-invocation state every component needs: a
// run identifier, the start time, a logger tagged with the run, the metric
// collectors and the root tracing span. It is built once per command and
// passed to constructors.
package runctx

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/tracing"
)

type Run struct {
	ID      string
	Start   time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Span    *tracing.Span
}

// New starts a run named after the command and returns a context carrying
// the run ID and its root span.
func New(ctx context.Context, name string, m *metrics.Metrics) (context.Context, *Run) {
	id := uuid.NewString()
	ctx = logger.WithRunID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, name, id)
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return ctx, &Run{
		ID:      id,
		Start:   span.StartTime,
		Logger:  logger.FromContext(ctx).With("command", name),
		Metrics: m,
		Span:    span,
	}
}

// ForTest returns a run with private metrics and the given logger.
func ForTest(log *slog.Logger) *Run {
	if log == nil {
		log = logger.Discard()
	}
	return &Run{
		ID:      uuid.NewString(),
		Start:   time.Now(),
		Logger:  log,
		Metrics: metrics.NewUnregistered(),
	}
}

// Component returns the run logger scoped to a component.
func (r *Run) Component(name string) *slog.Logger {
	return r.Logger.With("component", name)
}

// Elapsed is the time since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.Start)
}

// Finish closes the root span and logs the span tree.
func (r *Run) Finish() {
	if r.Span == nil {
		return
	}
	r.Span.End()
	r.Span.Log(r.Logger)
}
