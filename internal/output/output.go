// Package output serializes an aggregate trie for people and for later runs:
// a line-oriented text table, a single JSON object, or a binary dump.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/dump"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
)

const (
	FormatText   = "txt"
	FormatJSON   = "json"
	FormatBinary = "ngd"
)

// Meta describes the run that produced a trie.
type Meta struct {
	Description string
	BookCount   int
	MaxN        int
	Elapsed     time.Duration
	Index       map[uint32]string
}

func (m Meta) avgPerBook() float64 {
	if m.BookCount == 0 {
		return 0
	}
	return m.Elapsed.Seconds() / float64(m.BookCount)
}

func (m Meta) sortedRefs() []uint32 {
	refs := make([]uint32, 0, len(m.Index))
	for ref := range m.Index {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}

// FormatFromPath picks a format from a file extension, defaulting to text.
func FormatFromPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case FormatJSON:
		return FormatJSON
	case FormatBinary:
		return FormatBinary
	default:
		return FormatText
	}
}

// WriteFile writes trie to path in format. The file appears only once it is
// complete.
func WriteFile(path, format string, trie *ngram.Trie, meta Meta) error {
	if format == FormatBinary {
		_, err := dump.Write(path, trie, dump.Meta{
			Description: meta.Description,
			MaxN:        meta.MaxN,
			BookCount:   meta.BookCount,
			Index:       meta.Index,
		})
		return err
	}

	var write func(io.Writer, *ngram.Trie, Meta) error
	switch format {
	case FormatText:
		write = WriteText
	case FormatJSON:
		write = WriteJSON
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := write(f, trie, meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}
	return nil
}

// WriteText writes "_name value" header lines, one "_ <ref> <id>" line per
// indexed document, then "key count" per entry in key order. Entries with
// references append a tab and the comma-separated reference numbers.
func WriteText(w io.Writer, trie *ngram.Trie, meta Meta) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	fmt.Fprintf(bw, "_description %s\n", meta.Description)
	fmt.Fprintf(bw, "_book_count %d\n", meta.BookCount)
	fmt.Fprintf(bw, "_max_n %d\n", meta.MaxN)
	fmt.Fprintf(bw, "_processing_time_in_seconds %g\n", meta.Elapsed.Seconds())
	fmt.Fprintf(bw, "_processing_time_avg_per_book %g\n", meta.avgPerBook())
	for _, ref := range meta.sortedRefs() {
		fmt.Fprintf(bw, "_ %d %s\n", ref, meta.Index[ref])
	}

	var line []byte
	for key, e := range trie.All() {
		line = append(line[:0], key...)
		line = append(line, ' ')
		line = strconv.AppendUint(line, e.Count, 10)
		if e.Refs != nil && !e.Refs.IsEmpty() {
			line = append(line, '\t')
			it := e.Refs.Iterator()
			for first := true; it.HasNext(); first = false {
				if !first {
					line = append(line, ',')
				}
				line = strconv.AppendUint(line, uint64(it.Next()), 10)
			}
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("writing entry %q: %w", key, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing text output: %w", err)
	}
	return nil
}

type jsonMeta struct {
	Description              string  `json:"description"`
	BookCount                int     `json:"book_count"`
	MaxN                     int     `json:"max_n"`
	ProcessingTimeInSeconds  float64 `json:"processing_time_in_seconds"`
	ProcessingTimeAvgPerBook float64 `json:"processing_time_avg_per_book"`
}

// WriteJSON writes one object: "_meta", "_index" (reference number to
// document ID), then one member per n-gram whose value is the count, or
// [count, ref...] when references are tracked.
func WriteJSON(w io.Writer, trie *ngram.Trie, meta Meta) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	metaJSON, err := json.Marshal(jsonMeta{
		Description:              meta.Description,
		BookCount:                meta.BookCount,
		MaxN:                     meta.MaxN,
		ProcessingTimeInSeconds:  meta.Elapsed.Seconds(),
		ProcessingTimeAvgPerBook: meta.avgPerBook(),
	})
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	index := make(map[string]string, len(meta.Index))
	for ref, id := range meta.Index {
		index[strconv.FormatUint(uint64(ref), 10)] = id
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}

	fmt.Fprintf(bw, "{\n  \"_meta\": %s,\n  \"_index\": %s", metaJSON, indexJSON)
	for key, e := range trie.All() {
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("marshaling key %q: %w", key, err)
		}
		var value []byte
		if e.Refs != nil && !e.Refs.IsEmpty() {
			value, err = json.Marshal(append([]uint64{e.Count}, refsAsUint64(e)...))
			if err != nil {
				return fmt.Errorf("marshaling entry %q: %w", key, err)
			}
		} else {
			value = strconv.AppendUint(nil, e.Count, 10)
		}
		if _, err := fmt.Fprintf(bw, ",\n  %s: %s", keyJSON, value); err != nil {
			return fmt.Errorf("writing entry %q: %w", key, err)
		}
	}
	bw.WriteString("\n}\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing json output: %w", err)
	}
	return nil
}

func refsAsUint64(e ngram.Entry) []uint64 {
	out := make([]uint64, 0, e.Refs.GetCardinality())
	for _, r := range e.Refs.ToArray() {
		out = append(out, uint64(r))
	}
	return out
}
