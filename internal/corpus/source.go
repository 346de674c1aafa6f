// Package corpus loads documents and keeps their per-document tries. A Source
// yields raw text and catalogue metadata for a key; a Cache turns that into a
// reusable (Metadata, trie) pair.
package corpus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
)

// Metadata describes one document. WordCount and GarbageRatio are filled in
// from the raw text when the document is first loaded through a Cache.
type Metadata struct {
	ID           string  `json:"id"`
	Year         int     `json:"year"`
	ByteSize     int64   `json:"byte_size"`
	WordCount    int     `json:"word_count"`
	GarbageRatio float64 `json:"garbage_ratio"`
}

// Document is raw text plus its catalogue metadata.
type Document struct {
	Text string
	Meta Metadata
}

// Source resolves a key to a document. Implementations must be safe for
// concurrent use and should return *apperrors.DocumentLoadError on failure.
type Source interface {
	Load(ctx context.Context, key string) (Document, error)
}

// FileSource reads documents from disk. Relative keys are resolved against
// Root. The document ID is the file name without its extension unless a
// front-matter block names one.
type FileSource struct {
	Root string
}

type frontMatter struct {
	ID   string `yaml:"id"`
	Year int    `yaml:"year"`
}

var fenceLine = []byte("---")

func (s FileSource) Resolve(key string) string {
	if s.Root == "" || filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.Root, key)
}

func (s FileSource) Load(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	path := s.Resolve(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, &apperrors.DocumentLoadError{Path: path, Err: err}
	}

	meta := Metadata{
		ID:       IDFromPath(path),
		ByteSize: int64(len(data)),
	}
	body, fm, err := splitFrontMatter(data)
	if err != nil {
		return Document{}, &apperrors.DocumentLoadError{DocID: meta.ID, Path: path, Err: err}
	}
	if fm.ID != "" {
		meta.ID = fm.ID
	}
	meta.Year = fm.Year
	return Document{Text: string(body), Meta: meta}, nil
}

// IDFromPath derives a document ID from a file name: "books/1342.txt" is
// "1342".
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// splitFrontMatter strips a leading "---" YAML block. Text without one is
// returned unchanged.
func splitFrontMatter(data []byte) ([]byte, frontMatter, error) {
	var fm frontMatter
	first, rest, ok := bytes.Cut(data, []byte("\n"))
	if !ok || !bytes.Equal(bytes.TrimRight(first, "\r"), fenceLine) {
		return data, fm, nil
	}
	var header []byte
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\n"))
		if bytes.Equal(bytes.TrimRight(line, "\r"), fenceLine) {
			if err := yaml.Unmarshal(header, &fm); err != nil {
				return nil, fm, fmt.Errorf("parsing front matter: %w", err)
			}
			return rest, fm, nil
		}
		header = append(header, line...)
		header = append(header, '\n')
	}
	// An unterminated fence is ordinary text.
	return data, frontMatter{}, nil
}

// MemorySource serves documents from a map. It counts loads, which lets
// callers observe caching.
type MemorySource struct {
	mu    sync.RWMutex
	docs  map[string]Document
	loads atomic.Int64
}

func NewMemorySource() *MemorySource {
	return &MemorySource{docs: make(map[string]Document)}
}

// Add registers text under key. The ID defaults to key.
func (s *MemorySource) Add(key, text string, meta Metadata) {
	if meta.ID == "" {
		meta.ID = key
	}
	if meta.ByteSize == 0 {
		meta.ByteSize = int64(len(text))
	}
	s.mu.Lock()
	s.docs[key] = Document{Text: text, Meta: meta}
	s.mu.Unlock()
}

func (s *MemorySource) Load(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.loads.Add(1)
	s.mu.RLock()
	doc, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return Document{}, &apperrors.DocumentLoadError{Path: key, Err: os.ErrNotExist}
	}
	return doc, nil
}

// Loads is the number of Load calls served so far.
func (s *MemorySource) Loads() int64 {
	return s.loads.Load()
}
