// Package ngram is the n-gram frequency store: a patricia trie keyed by
// space-joined word sequences, mapping each key to an occurrence count and,
// when reference tracking is enabled, a compact set of the documents the key
// was seen in.
//
// A Trie is safe for concurrent use. Mutations take the write lock for the
// duration of one call (one document, one union); iteration holds the read
// lock, so an iteration observes a consistent snapshot.
//
// patricia sorts sparse child lists in place on every walk. Inserting a key
// marks the trie unsorted, and the next iteration sorts it once under the
// write lock; walks over a sorted trie only read, so readers can share it.
package ngram

import (
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/tokenizer"
)

// Separator joins the tokens of an n-gram key. Tokens never contain it.
const Separator = " "

// Mode selects how a mutation treats keys the trie has not seen.
type Mode int

const (
	// Additive creates or increments every observed key.
	Additive Mode = iota
	// RestrictedUnion only increments keys that already exist; novel keys
	// are discarded and the key set never grows.
	RestrictedUnion
)

func (m Mode) String() string {
	switch m {
	case Additive:
		return "additive"
	case RestrictedUnion:
		return "restricted-union"
	default:
		return "unknown"
	}
}

// NoRef marks a mutation that carries no document reference.
const NoRef = ^uint32(0)

// Entry is the value stored for one n-gram.
type Entry struct {
	Count uint64
	// Refs is nil unless the trie tracks references.
	Refs *roaring.Bitmap
}

// Option configures a Trie.
type Option func(*Trie)

// WithRefs enables per-key document reference sets. It roughly doubles the
// memory held per entry.
func WithRefs() Option {
	return func(t *Trie) { t.trackRefs = true }
}

// WithMode sets the mode other tries use when unioning into this one.
func WithMode(m Mode) Option {
	return func(t *Trie) { t.mode = m }
}

type Trie struct {
	mu        sync.RWMutex
	id        uint64
	root      *patricia.Trie
	size      int
	unsorted  bool
	mode      Mode
	trackRefs bool
}

var trieIDs atomic.Uint64

func New(opts ...Option) *Trie {
	t := &Trie{id: trieIDs.Add(1), root: patricia.NewTrie()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join builds the key for a token sequence.
func Join(tokens []string) string {
	return strings.Join(tokens, Separator)
}

// Split recovers the token sequence from a key.
func Split(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, Separator)
}

// Mode is the admission rule applied when another trie unions into t.
func (t *Trie) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

func (t *Trie) SetMode(m Mode) {
	t.mu.Lock()
	t.mode = m
	t.mu.Unlock()
}

// TracksRefs reports whether entries carry document references.
func (t *Trie) TracksRefs() bool {
	return t.trackRefs
}

// InsertText tokenizes text and applies mode to every n-gram of order
// 1..maxN. It returns the number of increments admitted.
func (t *Trie) InsertText(text string, maxN int, mode Mode) int {
	return t.InsertTokens(tokenizer.Tokenize(text), maxN, mode, NoRef)
}

// InsertDocument is InsertText that also records ref against every admitted
// key when the trie tracks references.
func (t *Trie) InsertDocument(text string, maxN int, mode Mode, ref uint32) int {
	return t.InsertTokens(tokenizer.Tokenize(text), maxN, mode, ref)
}

// InsertTokens applies mode to every n-gram of order 1..maxN of tokens in a
// single pass: each start position emits its 1-gram, 2-gram and so on.
func (t *Trie) InsertTokens(tokens []string, maxN int, mode Mode, ref uint32) int {
	if maxN <= 0 || len(tokens) == 0 {
		return 0
	}
	var key strings.Builder
	admitted := 0

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range tokens {
		key.Reset()
		for n := 0; n < maxN && i+n < len(tokens); n++ {
			if n > 0 {
				key.WriteString(Separator)
			}
			key.WriteString(tokens[i+n])
			if t.add(key.String(), 1, mode, ref, nil) {
				admitted++
			}
		}
	}
	return admitted
}

// add increments key by count under mode. Caller holds the write lock.
func (t *Trie) add(key string, count uint64, mode Mode, ref uint32, refs *roaring.Bitmap) bool {
	prefix := patricia.Prefix(key)
	if item := t.root.Get(prefix); item != nil {
		e := item.(*Entry)
		e.Count += count
		t.addRefs(e, ref, refs)
		return true
	}
	if mode == RestrictedUnion {
		return false
	}
	e := &Entry{Count: count}
	t.addRefs(e, ref, refs)
	t.root.Insert(prefix, e)
	t.size++
	t.unsorted = true
	return true
}

func (t *Trie) addRefs(e *Entry, ref uint32, refs *roaring.Bitmap) {
	if !t.trackRefs {
		return
	}
	if e.Refs == nil {
		e.Refs = roaring.New()
	}
	if ref != NoRef {
		e.Refs.Add(ref)
	}
	if refs != nil {
		e.Refs.Or(refs)
	}
}

// Get returns the count stored for key, or 0 if absent.
func (t *Trie) Get(key string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if item := t.root.Get(patricia.Prefix(key)); item != nil {
		return item.(*Entry).Count
	}
	return 0
}

// Lookup returns a copy of the entry for key.
func (t *Trie) Lookup(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.root.Get(patricia.Prefix(key))
	if item == nil {
		return Entry{}, false
	}
	return copyEntry(item.(*Entry)), true
}

// Set overwrites or creates key with count. Loading a persisted baseline
// uses it.
func (t *Trie) Set(key string, count uint64) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := patricia.Prefix(key)
	if item := t.root.Get(prefix); item != nil {
		item.(*Entry).Count = count
		return
	}
	e := &Entry{Count: count}
	if t.trackRefs {
		e.Refs = roaring.New()
	}
	t.root.Insert(prefix, e)
	t.size++
	t.unsorted = true
}

// SetEntry is Set that also replaces the reference set.
func (t *Trie) SetEntry(key string, count uint64, refs []uint32) {
	t.Set(key, count)
	if !t.trackRefs || len(refs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.root.Get(patricia.Prefix(key)).(*Entry)
	e.Refs = roaring.BitmapOf(refs...)
}

// UnionInto adds every entry of t to other using other's mode. Both write
// locks are held, taken in creation order so opposite unions cannot
// deadlock.
func (t *Trie) UnionInto(other *Trie) int {
	if t == other {
		return 0
	}
	first, second := t, other
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	admitted := 0
	_ = t.root.Visit(func(p patricia.Prefix, item patricia.Item) error {
		e := item.(*Entry)
		if other.add(string(p), e.Count, other.mode, NoRef, e.Refs) {
			admitted++
		}
		return nil
	})
	t.unsorted = false
	return admitted
}

// rlockSorted takes the read lock once every child list is sorted.
func (t *Trie) rlockSorted() {
	for {
		t.mu.RLock()
		if !t.unsorted {
			return
		}
		t.mu.RUnlock()

		t.mu.Lock()
		if t.unsorted {
			_ = t.root.Visit(func(patricia.Prefix, patricia.Item) error { return nil })
			t.unsorted = false
		}
		t.mu.Unlock()
	}
}

var errStop = errors.New("iteration stopped")

// All yields every entry in lexicographic key order. The read lock is held
// until iteration finishes, so the loop body must not mutate t. Yielded
// entries share their reference sets with the trie; treat them as read-only.
func (t *Trie) All() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		t.rlockSorted()
		defer t.mu.RUnlock()
		_ = t.root.Visit(func(p patricia.Prefix, item patricia.Item) error {
			if !yield(string(p), *item.(*Entry)) {
				return errStop
			}
			return nil
		})
	}
}

// Keys returns every key in lexicographic order.
func (t *Trie) Keys() []string {
	keys := make([]string, 0, t.Size())
	for k := range t.All() {
		keys = append(keys, k)
	}
	return keys
}

// Counts returns a key -> count snapshot.
func (t *Trie) Counts() map[string]uint64 {
	counts := make(map[string]uint64, t.Size())
	for k, e := range t.All() {
		counts[k] = e.Count
	}
	return counts
}

// Size is the number of entries.
func (t *Trie) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Reset drops every entry.
func (t *Trie) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = patricia.NewTrie()
	t.size = 0
	t.unsorted = false
}

// CloneKeys returns a trie with the same keys, zero counts, the same mode
// and the same reference tracking. Pipeline workers use it to fold documents
// against a fixed vocabulary without sharing the aggregate.
func (t *Trie) CloneKeys() *Trie {
	t.rlockSorted()
	defer t.mu.RUnlock()
	clone := &Trie{id: trieIDs.Add(1), root: patricia.NewTrie(), unsorted: true, mode: t.mode, trackRefs: t.trackRefs}
	_ = t.root.Visit(func(p patricia.Prefix, _ patricia.Item) error {
		e := &Entry{}
		if clone.trackRefs {
			e.Refs = roaring.New()
		}
		clone.root.Insert(append(patricia.Prefix(nil), p...), e)
		clone.size++
		return nil
	})
	return clone
}

func copyEntry(e *Entry) Entry {
	out := Entry{Count: e.Count}
	if e.Refs != nil {
		out.Refs = e.Refs.Clone()
	}
	return out
}
