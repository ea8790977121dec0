package rerank

import (
	"context"

	"github.com/insight-ai/cli/internal/retrieval"
)

// SimilarityReranker orders chunks by type-weighted retrieval similarity
// alone, with no model calls. Used when fast reranking is configured or
// as a fallback when no chat model is available.
type SimilarityReranker struct{}

// NewSimilarityReranker creates a new similarity-only reranker
func NewSimilarityReranker() *SimilarityReranker {
	return &SimilarityReranker{}
}

// Rerank sorts by weighted similarity and returns the top-k best.
func (r *SimilarityReranker) Rerank(ctx context.Context, query string, chunks []*retrieval.Chunk, topK int) ([]*ScoredChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = len(chunks)
	}

	scored := applyTypeWeights(chunks)
	for _, c := range scored {
		c.LLMRelevance = c.WeightedScore
		c.MMRScore = c.WeightedScore
		c.FinalScore = c.WeightedScore
	}

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

var _ Reranker = (*SimilarityReranker)(nil)
