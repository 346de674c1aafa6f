package similarity

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
)

// BenchmarkScore measures one directed comparison for documents of growing
// size against a fixed baseline.
func BenchmarkScore(b *testing.B) {
	base := ngram.New()
	for i := range 200 {
		base.InsertText(fmt.Sprintf("word%d word%d word%d", i, i%17, i%31), 3, ngram.Additive)
	}
	baseline, err := NewBaseline(base, 200)
	if err != nil {
		b.Fatal(err)
	}
	for _, words := range []int{100, 1000, 10000} {
		x, y := ngram.New(), ngram.New()
		for i := range words {
			x.InsertText(fmt.Sprintf("word%d", i%97), 3, ngram.Additive)
			y.InsertText(fmt.Sprintf("word%d", i%89), 3, ngram.Additive)
		}
		dx := Doc{Meta: corpus.Metadata{WordCount: words}, Trie: x}
		dy := Doc{Meta: corpus.Metadata{WordCount: words}, Trie: y}
		b.Run(fmt.Sprintf("words_%d", words), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				Score(dx, dy, baseline)
			}
		})
	}
}
