package baseline

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
)

// Build folds a sub-corpus additively through p. The book count is the
// number of documents that loaded.
func Build(ctx context.Context, p *pipeline.Pipeline, descs []pipeline.Descriptor) (*ngram.Trie, Header, error) {
	res, err := p.Run(ctx, descs)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%w: %w", apperrors.ErrBaseline, err)
	}
	if res.Processed == 0 {
		return nil, Header{}, apperrors.Newf(apperrors.ErrBaseline,
			"none of %d baseline documents could be loaded", len(descs))
	}
	h := Header{
		Description: fmt.Sprintf("Baseline word frequencies for 1-grams to %d-grams of words", p.MaxN()),
		BookCount:   res.Processed,
		MaxN:        p.MaxN(),
		Index:       res.Refs,
		Records:     res.Trie.Size(),
	}
	return res.Trie, h, nil
}
