// Package baseline builds the reference distribution the scorer weighs
// n-grams against, either by loading a persisted dump or by folding a
// sub-corpus.
package baseline

import (
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/dump"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/tracing"
)

const maxLineSize = 1 << 20

// Options controls loading.
type Options struct {
	// Limit caps the number of records loaded. Zero loads everything.
	Limit int
	// TrackRefs keeps reference sets present in the dump.
	TrackRefs bool
}

// Header collects the "_name value" lines of a text dump (or the metadata of
// a binary one).
type Header struct {
	Description string
	BookCount   int
	MaxN        int
	Index       map[uint32]string
	Records     int
	Malformed   int
}

// Load reads the dump at path into a new trie. The decoder is chosen by
// extension: .bz2, .zst and .gz are decompressed line dumps, .ngd is a
// binary dump, anything else is a plain line dump.
func Load(ctx context.Context, run *runctx.Run, path string, opts Options) (*ngram.Trie, Header, error) {
	ctx, span := tracing.StartChildSpan(ctx, "baseline-load")
	defer span.End()
	logger := run.Component("baseline").With("path", path)

	var trieOpts []ngram.Option
	if opts.TrackRefs {
		trieOpts = append(trieOpts, ngram.WithRefs())
	}
	trie := ngram.New(trieOpts...)

	if strings.EqualFold(filepath.Ext(path), ".ngd") {
		info, err := dump.Read(path, trie, opts.Limit)
		if err != nil {
			return nil, Header{}, fmt.Errorf("%w: %w", apperrors.ErrBaseline, err)
		}
		h := Header{
			Description: info.Meta.Description,
			BookCount:   info.Meta.BookCount,
			MaxN:        info.Meta.MaxN,
			Index:       info.Meta.Index,
			Records:     int(info.Loaded),
		}
		run.Metrics.BaselineRecordsTotal.Add(float64(h.Records))
		finish(run.Metrics, span, logger, trie, h)
		return trie, h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%w: %w", apperrors.ErrBaseline, err)
	}
	defer f.Close()

	r, closeFn, err := decompress(path, f)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%w: %s: %w", apperrors.ErrBaseline, path, err)
	}
	defer closeFn()

	h, err := Decode(ctx, r, trie, opts.Limit, func(err *apperrors.MalformedRecordError) {
		run.Metrics.BaselineMalformedTotal.Inc()
		logger.Warn("skipping malformed baseline record", "line", err.Line, "text", err.Text, "error", err.Err)
	}, run.Metrics)
	if err != nil {
		return nil, h, fmt.Errorf("%w: %s: %w", apperrors.ErrBaseline, path, err)
	}
	finish(run.Metrics, span, logger, trie, h)
	return trie, h, nil
}

func finish(m *metrics.Metrics, span *tracing.Span, logger *slog.Logger, trie *ngram.Trie, h Header) {
	m.TrieEntries.WithLabelValues("baseline").Set(float64(trie.Size()))
	span.SetAttr("records", h.Records)
	span.SetAttr("malformed", h.Malformed)
	logger.Info("baseline loaded",
		"records", h.Records,
		"malformed", h.Malformed,
		"ngrams", trie.Size(),
		"book_count", h.BookCount,
	)
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bz2":
		return bzip2.NewReader(r), noop, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("opening zstd stream: %w", err)
		}
		return dec, dec.Close, nil
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	default:
		return r, noop, nil
	}
}

// Decode reads "<key> <count>" lines into trie. The key is everything before
// the last space. An optional tab-separated third field lists comma-separated
// reference numbers. Header lines ("_book_count 3", "_ 0 id", ...) are only
// recognised before the first record; any other line is a record, so keys
// such as "__init__" survive a round trip. Malformed lines are passed to
// onMalformed and skipped. m may be nil.
func Decode(
	ctx context.Context,
	r io.Reader,
	trie *ngram.Trie,
	limit int,
	onMalformed func(*apperrors.MalformedRecordError),
	m *metrics.Metrics,
) (Header, error) {
	var h Header
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	inHeader := true
	for scanner.Scan() {
		lineNo++
		if lineNo%100_000 == 0 {
			if err := ctx.Err(); err != nil {
				return h, err
			}
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if inHeader && line[0] == '_' && parseHeaderLine(&h, line) {
			continue
		}
		inHeader = false
		if limit > 0 && h.Records >= limit {
			break
		}

		key, count, refs, err := parseRecord(line)
		if err != nil {
			h.Malformed++
			if onMalformed != nil {
				onMalformed(&apperrors.MalformedRecordError{Line: lineNo, Text: line, Err: err})
			}
			continue
		}
		if len(refs) > 0 {
			trie.SetEntry(key, count, refs)
		} else {
			trie.Set(key, count)
		}
		h.Records++
		if m != nil {
			m.BaselineRecordsTotal.Inc()
		}
	}
	if err := scanner.Err(); err != nil {
		return h, fmt.Errorf("reading line %d: %w", lineNo+1, err)
	}
	return h, nil
}

var (
	errNoSeparator = errors.New("no space between key and count")
	errBadCount    = errors.New("count is not a non-negative integer")
	errBadRef      = errors.New("reference is not an integer")
)

func parseRecord(line string) (string, uint64, []uint32, error) {
	record, refField, hasRefs := strings.Cut(line, "\t")
	i := strings.LastIndexByte(record, ' ')
	if i <= 0 || i == len(record)-1 {
		return "", 0, nil, errNoSeparator
	}
	count, err := strconv.ParseUint(record[i+1:], 10, 64)
	if err != nil {
		return "", 0, nil, errBadCount
	}
	var refs []uint32
	if hasRefs && refField != "" {
		for _, s := range strings.Split(refField, ",") {
			ref, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return "", 0, nil, errBadRef
			}
			refs = append(refs, uint32(ref))
		}
	}
	return record[:i], count, refs, nil
}

// parseHeaderLine applies "_book_count N", "_max_n N", "_description text",
// "_processing_time_* x" and "_ <ref> <id>" to h. It reports false for any
// other line.
func parseHeaderLine(h *Header, line string) bool {
	name, value, _ := strings.Cut(line, " ")
	switch {
	case name == "_book_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		h.BookCount = n
	case name == "_max_n":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		h.MaxN = n
	case name == "_description":
		h.Description = value
	case strings.HasPrefix(name, "_processing_time_"):
	case name == "_":
		refStr, id, ok := strings.Cut(value, " ")
		if !ok || id == "" {
			return false
		}
		ref, err := strconv.ParseUint(refStr, 10, 32)
		if err != nil {
			return false
		}
		if h.Index == nil {
			h.Index = make(map[uint32]string)
		}
		h.Index[uint32(ref)] = id
	default:
		return false
	}
	return true
}
