package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/postgres"
)

// Schema creates the table PostgresFlush writes to.
const Schema = `CREATE TABLE IF NOT EXISTS similarity_reports (
    run_id     TEXT NOT NULL,
    seq        BIGINT NOT NULL,
    scored_at  TIMESTAMPTZ NOT NULL,
    id_x       TEXT NOT NULL,
    year_x     INTEGER NOT NULL,
    bytes_x    BIGINT NOT NULL,
    words_x    INTEGER NOT NULL,
    id_y       TEXT NOT NULL,
    year_y     INTEGER NOT NULL,
    bytes_y    BIGINT NOT NULL,
    words_y    INTEGER NOT NULL,
    raw_sum    DOUBLE PRECISION NOT NULL,
    score      DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, seq)
)`

const insertReport = `INSERT INTO similarity_reports
    (run_id, seq, scored_at, id_x, year_x, bytes_x, words_x, id_y, year_y, bytes_y, words_y, raw_sum, score)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id, seq) DO NOTHING`

// EnsureSchema creates the report table if it is missing.
func EnsureSchema(ctx context.Context, db *postgres.Client) error {
	if err := db.Migrate(ctx, Schema); err != nil {
		return fmt.Errorf("creating similarity_reports table: %w", err)
	}
	return nil
}

// reportRows lays a batch out in insertReport's column order.
func reportRows(runID string, batch []similarity.Record) [][]any {
	rows := make([][]any, 0, len(batch))
	for _, rec := range batch {
		rows = append(rows, []any{
			runID, rec.Seq, rec.Timestamp.UTC(),
			rec.X.ID, rec.X.Year, rec.X.ByteSize, rec.X.WordCount,
			rec.Y.ID, rec.Y.Year, rec.Y.ByteSize, rec.Y.WordCount,
			rec.RawSum, rec.Score,
		})
	}
	return rows
}

// PostgresFlush inserts each batch in one transaction. Rows are keyed by
// (run_id, seq), so a retried batch does not duplicate rows.
func PostgresFlush(db *postgres.Client, runID string) FlushFunc {
	return func(ctx context.Context, batch []similarity.Record) error {
		if err := db.ExecBatch(ctx, insertReport, reportRows(runID, batch)); err != nil {
			return fmt.Errorf("inserting %d report rows: %w", len(batch), err)
		}
		return nil
	}
}

// NewPostgresSink batches records into similarity_reports.
func NewPostgresSink(db *postgres.Client, runID string, batchSize int, m *metrics.Metrics, logger *slog.Logger, opts ...BatchOption) *BatchSink {
	return NewBatchSink("postgres", batchSize, PostgresFlush(db, runID), m, logger, opts...)
}
