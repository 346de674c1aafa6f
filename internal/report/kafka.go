package report

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
)

// Publisher is the part of kafka.Producer the Kafka sink uses.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// KafkaEvent is the message body published per record.
type KafkaEvent struct {
	RunID string `json:"run_id"`
	similarity.Record
}

// KafkaFlush publishes each batch as JSON messages keyed by X's document ID,
// so every record about one document lands on the same partition.
func KafkaFlush(p Publisher, runID string) FlushFunc {
	return func(ctx context.Context, batch []similarity.Record) error {
		events := make([]kafka.Event, 0, len(batch))
		for _, rec := range batch {
			events = append(events, kafka.Event{
				Key:   rec.X.ID,
				Value: KafkaEvent{RunID: runID, Record: rec},
			})
		}
		return p.PublishBatch(ctx, events)
	}
}

// NewKafkaSink batches records onto the reports topic.
func NewKafkaSink(p Publisher, runID string, batchSize int, m *metrics.Metrics, logger *slog.Logger, opts ...BatchOption) *BatchSink {
	return NewBatchSink("kafka", batchSize, KafkaFlush(p, runID), m, logger, opts...)
}
