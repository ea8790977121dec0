package rerank

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/retrieval"
)

// mockLLM returns canned responses keyed by a substring of the prompt,
// or a fixed response for every call.
type mockLLM struct {
	response   string
	err        error
	calls      int
	lastPrompt string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	return m.response, m.err
}

func testChunks() []*retrieval.Chunk {
	return []*retrieval.Chunk{
		{Kind: db.KindText, Content: "voltage specifications", Similarity: 0.85, SourceDocument: "manual", SectionID: "page-1"},
		{Kind: db.KindTable, Content: "voltage by model", Similarity: 0.78, SourceDocument: "manual", SectionID: "page-9"},
		{Kind: db.KindImage, Content: "wiring diagram", Similarity: 0.72, SourceDocument: "manual", SectionID: "page-3"},
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     float64
	}{
		{"bare number", "0.8", 0.8},
		{"number with trailing text", "0.75 because the content matches", 0.75},
		{"comma decimal", "0,6", 0.6},
		{"trailing period", "0.9.", 0.9},
		{"clamped above one", "1.5", 1.0},
		{"clamped below zero", "-0.2", 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, parseScore(tc.response, 0.5), 1e-9)
		})
	}

	t.Run("unparseable uses fallback", func(t *testing.T) {
		assert.Equal(t, 0.42, parseScore("highly relevant", 0.42))
		assert.Equal(t, 0.42, parseScore("", 0.42))
	})
}

func TestApplyTypeWeights(t *testing.T) {
	scored := applyTypeWeights(testChunks())
	require.Len(t, scored, 3)

	// Table weight 1.1, text 1.0, image 0.9
	byKind := map[db.ChunkKind]*ScoredChunk{}
	for _, c := range scored {
		byKind[c.Kind] = c
	}
	assert.InDelta(t, 0.85*1.0, byKind[db.KindText].WeightedScore, 1e-9)
	assert.InDelta(t, 0.78*1.1, byKind[db.KindTable].WeightedScore, 1e-9)
	assert.InDelta(t, 0.72*0.9, byKind[db.KindImage].WeightedScore, 1e-9)

	// Sorted descending
	assert.GreaterOrEqual(t, scored[0].WeightedScore, scored[1].WeightedScore)
	assert.GreaterOrEqual(t, scored[1].WeightedScore, scored[2].WeightedScore)
}

func TestApplyMMRPenalizesRepeatedSources(t *testing.T) {
	scored := []*ScoredChunk{
		{Chunk: retrieval.Chunk{SourceDocument: "a", SectionID: "s1"}, LLMRelevance: 0.9},
		{Chunk: retrieval.Chunk{SourceDocument: "a", SectionID: "s2"}, LLMRelevance: 0.9},
		{Chunk: retrieval.Chunk{SourceDocument: "b", SectionID: "s3"}, LLMRelevance: 0.9},
	}
	applyMMR(scored)

	// First occurrence of each source gets no source penalty
	first := scored[0]
	assert.InDelta(t, mmrLambda*0.9, first.MMRScore, 1e-9)

	// Repeated source is penalized below the fresh source
	var repeated, fresh *ScoredChunk
	for _, c := range scored {
		if c.SourceDocument == "a" && c.MMRScore < first.MMRScore {
			repeated = c
		}
		if c.SourceDocument == "b" {
			fresh = c
		}
	}
	require.NotNil(t, repeated)
	require.NotNil(t, fresh)
	assert.Less(t, repeated.MMRScore, fresh.MMRScore)
}

func TestHybridRerank(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		r := NewHybridReranker(&mockLLM{response: "0.5"}, "test")
		scored, err := r.Rerank(context.Background(), "q", nil, 5)
		require.NoError(t, err)
		assert.Nil(t, scored)
	})

	t.Run("scores and truncates to top-k", func(t *testing.T) {
		mock := &mockLLM{response: "0.8"}
		r := NewHybridReranker(mock, "test")
		scored, err := r.Rerank(context.Background(), "voltage", testChunks(), 2)
		require.NoError(t, err)
		require.Len(t, scored, 2)
		assert.Equal(t, 3, mock.calls)
		assert.GreaterOrEqual(t, scored[0].FinalScore, scored[1].FinalScore)
	})

	t.Run("multi-byte content truncates on a rune boundary", func(t *testing.T) {
		mock := &mockLLM{response: "0.8"}
		r := NewHybridReranker(mock, "test")
		chunks := []*retrieval.Chunk{
			{Kind: db.KindText, Content: strings.Repeat("€", 300), Similarity: 0.85, SourceDocument: "manual", SectionID: "page-1"},
		}
		_, err := r.Rerank(context.Background(), "voltage", chunks, 1)
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(mock.lastPrompt))
	})

	t.Run("model failure falls back to weighted score", func(t *testing.T) {
		mock := &mockLLM{err: errors.New("connection refused")}
		r := NewHybridReranker(mock, "test")
		scored, err := r.Rerank(context.Background(), "voltage", testChunks(), 3)
		require.NoError(t, err)
		require.Len(t, scored, 3)
		for _, c := range scored {
			assert.InDelta(t, c.WeightedScore, c.LLMRelevance, 1e-9)
		}
	})
}

func TestSimilarityRerank(t *testing.T) {
	r := NewSimilarityReranker()
	scored, err := r.Rerank(context.Background(), "voltage", testChunks(), 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)

	// Table chunk wins after type weighting (0.78*1.1 > 0.85)
	assert.Equal(t, db.KindTable, scored[0].Kind)
	assert.Equal(t, db.KindText, scored[1].Kind)
	assert.Equal(t, scored[0].WeightedScore, scored[0].FinalScore)
}
