// Package rerank orders retrieved chunks by relevance before answer
// generation.
package rerank

import (
	"context"

	"github.com/insight-ai/cli/internal/retrieval"
)

// ScoredChunk is a retrieved chunk with its reranking scores.
type ScoredChunk struct {
	retrieval.Chunk

	// WeightedScore is the retrieval similarity after chunk type weighting.
	WeightedScore float64

	// LLMRelevance is the model-assigned relevance in [0, 1].
	LLMRelevance float64

	// MMRScore balances relevance against source and section diversity.
	MMRScore float64

	// FinalScore is the weighted combination used for the final order.
	FinalScore float64
}

// Reranker reorders chunks by relevance to the query and returns the
// top-k best.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []*retrieval.Chunk, topK int) ([]*ScoredChunk, error)
}

// typeWeights bias the initial similarity by chunk source. Tables carry
// structured data and rank slightly higher; image captions may be less
// precise and rank slightly lower.
var typeWeights = map[string]float64{
	"text":  1.0,
	"image": 0.9,
	"table": 1.1,
}

func typeWeight(kind string) float64 {
	if w, ok := typeWeights[kind]; ok {
		return w
	}
	return 1.0
}
