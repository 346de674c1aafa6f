// Package report delivers similarity records: to a tab-separated stream, to a
// PostgreSQL table, to a Kafka topic, or to several of these at once. External
// sinks batch their writes and are guarded by retry and a circuit breaker.
package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
)

// Sink is a similarity.Sink that must be closed to flush buffered records.
type Sink interface {
	similarity.Sink
	Close(ctx context.Context) error
}

// TSVSink writes one tab-separated line per record:
//
//	seq timestamp id_x year_x bytes_x words_x id_y year_y bytes_y words_y raw_sum score
type TSVSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	buf []byte
}

func NewTSVSink(w io.Writer) *TSVSink {
	return &TSVSink{w: bufio.NewWriter(w)}
}

func (s *TSVSink) Write(_ context.Context, rec similarity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = AppendTSV(s.buf[:0], rec)
	if _, err := s.w.Write(s.buf); err != nil {
		return fmt.Errorf("writing report line: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to the underlying writer.
func (s *TSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func (s *TSVSink) Close(context.Context) error {
	return s.Flush()
}

// AppendTSV appends the report line for rec, newline included.
func AppendTSV(b []byte, rec similarity.Record) []byte {
	b = strconv.AppendInt(b, rec.Seq, 10)
	b = append(b, '\t')
	b = rec.Timestamp.UTC().AppendFormat(b, time.RFC3339)
	b = appendMeta(b, rec.X)
	b = appendMeta(b, rec.Y)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, rec.RawSum, 'g', -1, 64)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, rec.Score, 'g', -1, 64)
	return append(b, '\n')
}

func appendMeta(b []byte, m corpus.Metadata) []byte {
	b = append(b, '\t')
	b = append(b, m.ID...)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(m.Year), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, m.ByteSize, 10)
	b = append(b, '\t')
	return strconv.AppendInt(b, int64(m.WordCount), 10)
}

// MultiSink writes every record to each sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec similarity.Record) error {
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every sink that buffers.
func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
