// Package retrieval performs vector similarity search across the three
// chunk sources (text, image captions, table summaries).
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/embeddings"
)

// Chunk is one retrieved passage with its similarity to the query.
type Chunk struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	Kind           db.ChunkKind
	SectionID      string
	SourceDocument string
	Content        string
	FilePath       string
	Similarity     float64
}

// Retriever handles similarity search using vector embeddings
type Retriever struct {
	db      *db.DB
	textEmb *embeddings.TextEmbedder
	topK    int
}

// NewRetriever creates a new retriever
func NewRetriever(database *db.DB, textEmb *embeddings.TextEmbedder, topK int) *Retriever {
	if topK <= 0 {
		topK = 10
	}
	return &Retriever{
		db:      database,
		textEmb: textEmb,
		topK:    topK,
	}
}

// Retrieve finds the chunks most similar to the query across all three
// sources. Results are merged and sorted by descending similarity; at most
// topK chunks are returned. topK <= 0 uses the constructor default.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]*Chunk, error) {
	if topK <= 0 {
		topK = r.topK
	}

	queryEmbedding, err := r.textEmb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var merged []*Chunk
	for _, kind := range []db.ChunkKind{db.KindText, db.KindImage, db.KindTable} {
		found, err := r.db.SearchSimilarChunks(ctx, queryEmbedding, kind, topK)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s chunks: %w", kind, err)
		}
		for _, c := range found {
			merged = append(merged, &Chunk{
				ID:             c.ID,
				DocumentID:     c.DocumentID,
				Kind:           c.Kind,
				SectionID:      c.SectionID,
				SourceDocument: c.SourceDocument,
				Content:        c.Content,
				FilePath:       c.FilePath,
				Similarity:     c.Similarity,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// RetrieveHybrid performs semantic search then filters by keyword overlap
func (r *Retriever) RetrieveHybrid(ctx context.Context, query string, topK int) ([]*Chunk, error) {
	chunks, err := r.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	keywords := extractKeywords(query)
	return filterByKeywords(chunks, keywords), nil
}

// Hybrid presents a Retriever whose Retrieve applies the keyword filter.
// The filter keeps the plain semantic result whenever it would discard
// more than half the chunks, so it is safe as the default backend.
type Hybrid struct {
	*Retriever
}

// Retrieve delegates to RetrieveHybrid
func (h Hybrid) Retrieve(ctx context.Context, query string, topK int) ([]*Chunk, error) {
	return h.RetrieveHybrid(ctx, query, topK)
}

// extractKeywords extracts important keywords from query
func extractKeywords(query string) []string {
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true,
		"but": true, "in": true, "on": true, "at": true, "to": true,
		"for": true, "of": true, "with": true, "by": true, "is": true,
		"are": true, "was": true, "were": true, "be": true, "been": true,
		"have": true, "has": true, "had": true, "do": true, "does": true,
		"did": true, "will": true, "would": true, "could": true, "should": true,
		"what": true, "which": true, "who": true, "when": true, "where": true,
		"why": true, "how": true,
	}

	words := strings.Fields(strings.ToLower(query))
	var keywords []string
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:")
		if len(word) > 2 && !stopWords[word] {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// filterByKeywords filters chunks by keyword presence
func filterByKeywords(chunks []*Chunk, keywords []string) []*Chunk {
	if len(keywords) == 0 {
		return chunks
	}

	var filtered []*Chunk
	for _, chunk := range chunks {
		content := strings.ToLower(chunk.Content)
		matches := 0
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				matches++
			}
		}
		if matches > 0 {
			filtered = append(filtered, chunk)
		}
	}

	// If filtering removed too many, keep the semantic result
	if len(filtered) < len(chunks)/2 {
		return chunks
	}
	return filtered
}
