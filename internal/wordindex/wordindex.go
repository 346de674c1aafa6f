// Package wordindex assigns every distinct word in a corpus a sequential ID
// in order of first appearance. IDs start at 1.
package wordindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/tokenizer"
)

// Index maps words to IDs. It is not safe for concurrent use; IDs depend on
// the order documents are added.
type Index struct {
	ids   map[string]uint32
	words []string
	total int64
}

func New() *Index {
	return &Index{ids: make(map[string]uint32)}
}

// Add indexes the words of text and returns how many it contained.
func (ix *Index) Add(text string) int {
	words := tokenizer.Tokenize(text)
	for _, w := range words {
		if _, ok := ix.ids[w]; !ok {
			ix.words = append(ix.words, w)
			ix.ids[w] = uint32(len(ix.words))
		}
	}
	ix.total += int64(len(words))
	return len(words)
}

// ID returns the word's ID.
func (ix *Index) ID(word string) (uint32, bool) {
	id, ok := ix.ids[word]
	return id, ok
}

// Word returns the word with the given ID.
func (ix *Index) Word(id uint32) (string, bool) {
	if id == 0 || int(id) > len(ix.words) {
		return "", false
	}
	return ix.words[id-1], true
}

// Total is the number of words seen, repeats included.
func (ix *Index) Total() int64 { return ix.total }

// Unique is the number of distinct words.
func (ix *Index) Unique() int { return len(ix.words) }

// WriteJSON writes the index as one JSON object with members in ID order.
func (ix *Index) WriteJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteByte('{')
	for i, word := range ix.words {
		if i > 0 {
			bw.WriteByte(',')
		}
		key, err := json.Marshal(word)
		if err != nil {
			return fmt.Errorf("encoding word %q: %w", word, err)
		}
		bw.Write(key)
		fmt.Fprintf(bw, ":%d", i+1)
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// WriteFile writes the JSON index to path.
func (ix *Index) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	if err := ix.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing index file: %w", err)
	}
	return f.Close()
}

// Build indexes keys in order. Documents that fail to load are logged and
// skipped; the returned slice lists them.
func Build(ctx context.Context, run *runctx.Run, source corpus.Source, keys []string) (*Index, []string, error) {
	log := run.Component("wordindex")
	ix := New()
	var failed []string
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc, err := source.Load(ctx, key)
		if err != nil {
			log.Error("document skipped", "key", key, "error", err)
			run.Metrics.DocsFailedTotal.WithLabelValues("wordindex").Inc()
			failed = append(failed, key)
			continue
		}
		n := ix.Add(doc.Text)
		log.Info("document indexed", "key", key, "words", n, "unique", ix.Unique())
	}
	log.Info("word index built", "total_words", ix.Total(), "unique_words", ix.Unique())
	return ix, failed, nil
}
