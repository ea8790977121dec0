package rerank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/retrieval"
)

const (
	// llmScoringLimit caps how many chunks get individual LLM relevance
	// calls; the rest fall back to their weighted retrieval score.
	llmScoringLimit = 15

	// scoringContentLimit bounds how much chunk content each relevance
	// prompt carries.
	scoringContentLimit = 500

	// mmrLambda balances relevance (1.0) against diversity (0.0).
	mmrLambda = 0.7

	sourcePenalty  = 0.2
	sectionPenalty = 0.1
)

// Final score combination weights. LLM relevance dominates.
const (
	weightRetrieval = 0.2
	weightLLM       = 0.5
	weightMMR       = 0.3
)

// HybridReranker combines type-weighted retrieval scores, per-chunk LLM
// relevance scoring, and MMR diversity into a single final ranking.
type HybridReranker struct {
	client llm.LLM
	model  string
}

// NewHybridReranker creates a new hybrid reranker
func NewHybridReranker(client llm.LLM, model string) *HybridReranker {
	return &HybridReranker{client: client, model: model}
}

// Rerank scores and reorders the chunks, returning the top-k best.
func (r *HybridReranker) Rerank(ctx context.Context, query string, chunks []*retrieval.Chunk, topK int) ([]*ScoredChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = len(chunks)
	}

	scored := applyTypeWeights(chunks)

	// LLM relevance for the top candidates only
	limit := llmScoringLimit
	if limit > len(scored) {
		limit = len(scored)
	}
	for _, c := range scored[:limit] {
		score, err := r.scoreRelevance(ctx, query, c)
		if err != nil {
			// Fall back to the weighted score on any model failure
			c.LLMRelevance = c.WeightedScore
			continue
		}
		c.LLMRelevance = score
	}
	for _, c := range scored[limit:] {
		c.LLMRelevance = c.WeightedScore
	}

	applyMMR(scored)
	finalRanking(scored)

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// applyTypeWeights biases similarity scores by chunk kind and sorts
func applyTypeWeights(chunks []*retrieval.Chunk) []*ScoredChunk {
	scored := make([]*ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, &ScoredChunk{
			Chunk:         *c,
			WeightedScore: c.Similarity * typeWeight(string(c.Kind)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].WeightedScore > scored[j].WeightedScore
	})
	return scored
}

// scoreRelevance asks the model for a relevance score in [0, 1]
func (r *HybridReranker) scoreRelevance(ctx context.Context, query string, c *ScoredChunk) (float64, error) {
	content := truncateRunes(c.Content, scoringContentLimit)

	prompt := fmt.Sprintf(`You are a relevance scoring expert. Score how relevant this content is to the user's query.

User Query: "%s"

Content Type: %s
Content: "%s"

Instructions:
1. Analyze if the content directly addresses the query
2. Consider semantic relevance, not just keyword matching
3. For tables: assess if the data structure is relevant
4. For images: evaluate if the summary relates to the query

Provide ONLY a relevance score between 0.0 and 1.0, where:
- 1.0 = Highly relevant, directly answers the query
- 0.7-0.9 = Relevant, provides useful information
- 0.4-0.6 = Somewhat relevant, tangentially related
- 0.0-0.3 = Not relevant

Score (0.0-1.0):`, query, c.Kind, content)

	response, err := r.client.Generate(ctx, prompt, llm.GenerateOptions{Model: r.model, Temperature: 0.1})
	if err != nil {
		return 0, err
	}

	return parseScore(response, c.WeightedScore), nil
}

// truncateRunes cuts s to at most limit bytes without splitting a
// multi-byte rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// parseScore extracts the leading numeric score from a model response,
// clamped to [0, 1]. A response that cannot be parsed yields the fallback.
func parseScore(response string, fallback float64) float64 {
	fields := strings.Fields(strings.TrimSpace(response))
	if len(fields) == 0 {
		return fallback
	}
	raw := strings.ReplaceAll(fields[0], ",", ".")
	raw = strings.Trim(raw, ".:")
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// applyMMR penalizes repeats of already selected sources and sections
func applyMMR(scored []*ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].LLMRelevance > scored[j].LLMRelevance
	})

	seenSources := make(map[string]bool)
	seenSections := make(map[string]bool)

	for _, c := range scored {
		penalty := 0.0
		if seenSources[c.SourceDocument] {
			penalty += sourcePenalty
		}
		if seenSections[c.SectionID] {
			penalty += sectionPenalty
		}

		c.MMRScore = mmrLambda*c.LLMRelevance - (1-mmrLambda)*penalty

		seenSources[c.SourceDocument] = true
		seenSections[c.SectionID] = true
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].MMRScore > scored[j].MMRScore
	})
}

// finalRanking combines all scores and sorts by the result
func finalRanking(scored []*ScoredChunk) {
	for _, c := range scored {
		c.FinalScore = c.WeightedScore*weightRetrieval +
			c.LLMRelevance*weightLLM +
			c.MMRScore*weightMMR
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
}

var _ Reranker = (*HybridReranker)(nil)
