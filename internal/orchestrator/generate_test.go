package orchestrator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/insight-ai/cli/internal/rerank"
	"github.com/insight-ai/cli/internal/retrieval"
)

func TestCountGenericMarkers(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		want   int
	}{
		{"helpful answer", "The maximum score is 71.5 according to the report.", 0},
		{"one marker", "The context does not contain that value.", 1},
		{"two markers", "The context does not contain this and the documents do not provide details.", 2},
		{"case insensitive", "The Context DOES NOT CONTAIN this. NO INFORMATION was found.", 2},
		{"three markers", "No information is available; the sources do not provide it and more data would be required.", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, countGenericMarkers(tc.answer))
		})
	}
}

func scoredChunks(n int, contentLen int) []*rerank.ScoredChunk {
	chunks := make([]*rerank.ScoredChunk, n)
	for i := range chunks {
		chunks[i] = &rerank.ScoredChunk{
			Chunk: retrieval.Chunk{
				Kind:           "text",
				SourceDocument: "manual",
				Content:        strings.Repeat("x", contentLen),
			},
			FinalScore: 0.8,
		}
	}
	return chunks
}

func TestBuildContext(t *testing.T) {
	t.Run("truncates long content", func(t *testing.T) {
		ctx := buildContext(scoredChunks(1, 800), 5, 500)
		assert.Contains(t, ctx, strings.Repeat("x", 500)+"...")
		assert.NotContains(t, ctx, strings.Repeat("x", 501))
	})

	t.Run("zero char limit keeps full content", func(t *testing.T) {
		ctx := buildContext(scoredChunks(1, 800), 8, 0)
		assert.Contains(t, ctx, strings.Repeat("x", 800))
		assert.NotContains(t, ctx, "...")
	})

	t.Run("limits chunk count", func(t *testing.T) {
		ctx := buildContext(scoredChunks(10, 10), 5, 500)
		assert.Contains(t, ctx, "[Source 5 - text]")
		assert.NotContains(t, ctx, "[Source 6 - text]")
	})

	t.Run("fewer chunks than limit", func(t *testing.T) {
		ctx := buildContext(scoredChunks(2, 10), 8, 0)
		assert.Contains(t, ctx, "[Source 2 - text]")
	})

	t.Run("keeps multi-byte content valid", func(t *testing.T) {
		chunks := scoredChunks(1, 0)
		chunks[0].Content = strings.Repeat("€", 300)
		ctx := buildContext(chunks, 5, 500)
		assert.True(t, utf8.ValidString(ctx))
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "abc", truncateRunes("abcdef", 3))

	// "€" is three bytes; a limit of 4 would split the second rune
	cut := truncateRunes("€€", 4)
	assert.Equal(t, "€", cut)
	assert.True(t, utf8.ValidString(cut))
}

func TestBuildPrompt(t *testing.T) {
	standard := buildPrompt("What is the score?", "some context", false)
	assert.Contains(t, standard, "What is the score?")
	assert.Contains(t, standard, "some context")
	assert.Contains(t, standard, "If the context doesn't contain enough information, say so")

	directive := buildPrompt("What is the score?", "some context", true)
	assert.Contains(t, directive, "Check EVERY source")
	assert.NotContains(t, directive, "If the context doesn't contain enough information, say so")
}
