// Package similarity scores how much of document Y's phrasing reappears in
// document X, weighting each shared n-gram by how rare it is in a baseline
// corpus.
//
//	score(X, Y) = Σ_{g in Y} sqrt(count_X(g)·count_Y(g)) / rarity(g)
//	              / sqrt(words_X² + words_Y²)
//
// The sum ranges over Y's n-grams only, so the score is directional:
// Score(x, y) and Score(y, x) generally differ.
package similarity

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
)

// SentinelFactor scales the rarity of n-grams absent from the baseline so
// that they contribute next to nothing.
const SentinelFactor = 1_000_000

// Baseline is the reference distribution. It is read-only while scoring and
// is shared by every comparison goroutine.
type Baseline struct {
	Trie      *ngram.Trie
	BookCount int
}

func NewBaseline(trie *ngram.Trie, bookCount int) (*Baseline, error) {
	if trie == nil {
		return nil, apperrors.New(apperrors.ErrBaseline, "no baseline trie")
	}
	if bookCount <= 0 {
		return nil, &apperrors.ConfigError{
			Field:   "baseline.bookCount",
			Message: fmt.Sprintf("must be positive, got %d", bookCount),
		}
	}
	return &Baseline{Trie: trie, BookCount: bookCount}, nil
}

// Rarity is B[g]/bookCount for n-grams in the baseline and
// bookCount*SentinelFactor for the rest. It is always positive.
func (b *Baseline) Rarity(key string) float64 {
	if n := b.Trie.Get(key); n > 0 {
		return float64(n) / float64(b.BookCount)
	}
	return float64(b.BookCount) * SentinelFactor
}

// Doc is one side of a comparison.
type Doc struct {
	Meta corpus.Metadata
	Trie *ngram.Trie
}

// Contribution is one term of the score's numerator.
type Contribution struct {
	Key    string
	CountX uint64
	CountY uint64
	Rarity float64
	Value  float64
}

// Score returns the numerator sum and the normalised score of x against y.
// A zero word count on both sides yields a score of 0.
func Score(x, y Doc, b *Baseline) (raw, score float64) {
	return ScoreTrace(x, y, b, nil)
}

// ScoreTrace is Score that reports the term for every n-gram of y to trace,
// including the zero terms of n-grams x lacks.
func ScoreTrace(x, y Doc, b *Baseline, trace func(Contribution)) (raw, score float64) {
	for key, ey := range y.Trie.All() {
		var cx uint64
		if x.Trie == y.Trie {
			cx = ey.Count
		} else {
			cx = x.Trie.Get(key)
		}
		if cx == 0 {
			if trace != nil {
				trace(Contribution{Key: key, CountY: ey.Count})
			}
			continue
		}
		rarity := b.Rarity(key)
		v := math.Sqrt(float64(cx)*float64(ey.Count)) / rarity
		raw += v
		if trace != nil {
			trace(Contribution{Key: key, CountX: cx, CountY: ey.Count, Rarity: rarity, Value: v})
		}
	}
	return raw, Normalize(raw, x.Meta.WordCount, y.Meta.WordCount)
}

// Normalize divides raw by sqrt(wordsX² + wordsY²).
func Normalize(raw float64, wordsX, wordsY int) float64 {
	wx, wy := float64(wordsX), float64(wordsY)
	denom := math.Sqrt(wx*wx + wy*wy)
	if denom == 0 {
		return 0
	}
	return raw / denom
}
