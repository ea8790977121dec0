package documents

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/embeddings"
)

// Processor handles document processing with incremental updates
type Processor struct {
	db           *db.DB
	textEmb      *embeddings.TextEmbedder
	annotator    *embeddings.ImageAnnotator
	parser       Parser
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger
}

// NewProcessor creates a new document processor
func NewProcessor(
	database *db.DB,
	textEmb *embeddings.TextEmbedder,
	annotator *embeddings.ImageAnnotator,
	imageDir string,
	chunkSize, chunkOverlap int,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		db:           database,
		textEmb:      textEmb,
		annotator:    annotator,
		parser:       NewPDFParser(imageDir),
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// ProcessDirectory processes every PDF under the given directory
func (p *Processor) ProcessDirectory(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(path)) != ".pdf" {
			return nil
		}
		if err := p.ProcessDocument(ctx, path); err != nil {
			p.logger.Warn("document processing failed", "path", path, "error", err)
		}
		return nil
	})
}

// ProcessDocument processes a document if it's new or changed
func (p *Processor) ProcessDocument(ctx context.Context, filePath string) error {
	hash, err := computeFileHash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	existingDoc, err := p.db.GetDocumentByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to check existing document: %w", err)
	}
	if existingDoc != nil {
		// Already processed, skip
		return nil
	}

	if strings.ToLower(filepath.Ext(filePath)) != ".pdf" {
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(filePath))
	}

	title := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	doc, err := p.db.CreateDocument(ctx, filePath, hash, title)
	if err != nil {
		return fmt.Errorf("failed to create document record: %w", err)
	}

	parsed, err := p.parser.Parse(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	if err := p.processPages(ctx, doc.ID, parsed.Pages); err != nil {
		return fmt.Errorf("failed to process text chunks: %w", err)
	}

	// Figure captioning failures never fail the whole document
	if err := p.processFigures(ctx, doc.ID, parsed.Figures); err != nil {
		p.logger.Warn("failed to process figures", "path", filePath, "error", err)
	}

	if err := p.db.UpdateDocumentProcessed(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to update processed timestamp: %w", err)
	}

	p.logger.Info("document processed", "path", filePath, "pages", len(parsed.Pages), "figures", len(parsed.Figures))
	return nil
}

// processPages chunks page text, extracts table blocks, and embeds everything
func (p *Processor) processPages(ctx context.Context, docID uuid.UUID, pages []PageContent) error {
	var chunkData []*db.Chunk
	chunkIndex := 0

	for _, page := range pages {
		sectionID := fmt.Sprintf("page-%d", page.Number)

		tables, prose := extractTableBlocks(page.Text)

		for _, chunkText := range p.splitText(prose) {
			embedding, err := p.textEmb.Embed(ctx, chunkText)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", chunkIndex, err)
			}
			chunkData = append(chunkData, &db.Chunk{
				ID:         uuid.New(),
				DocumentID: docID,
				Kind:       db.KindText,
				ChunkIndex: chunkIndex,
				SectionID:  sectionID,
				Content:    chunkText,
				Embedding:  embedding,
			})
			chunkIndex++
		}

		for _, table := range tables {
			embedding, err := p.textEmb.Embed(ctx, table)
			if err != nil {
				return fmt.Errorf("failed to embed table block: %w", err)
			}
			chunkData = append(chunkData, &db.Chunk{
				ID:         uuid.New(),
				DocumentID: docID,
				Kind:       db.KindTable,
				ChunkIndex: chunkIndex,
				SectionID:  sectionID,
				Content:    table,
				Embedding:  embedding,
			})
			chunkIndex++
		}
	}

	if len(chunkData) == 0 {
		return nil
	}
	return p.db.InsertChunksBatch(ctx, chunkData)
}

// processFigures captions rendered figures and stores them as image chunks
func (p *Processor) processFigures(ctx context.Context, docID uuid.UUID, figures []FigureData) error {
	if len(figures) == 0 || p.annotator == nil {
		return nil
	}

	var captioned []FigureData
	var captions []string
	for _, fig := range figures {
		caption, err := p.annotator.Caption(ctx, fig.FilePath)
		if err != nil {
			p.logger.Warn("failed to caption figure", "path", fig.FilePath, "error", err)
			continue
		}
		captioned = append(captioned, fig)
		captions = append(captions, caption)
	}
	if len(captioned) == 0 {
		return nil
	}

	vectors, err := p.textEmb.EmbedBatch(ctx, captions)
	if err != nil {
		return fmt.Errorf("failed to embed captions: %w", err)
	}

	chunkData := make([]*db.Chunk, 0, len(captioned))
	for i, fig := range captioned {
		chunkData = append(chunkData, &db.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Kind:       db.KindImage,
			ChunkIndex: fig.Index,
			SectionID:  fmt.Sprintf("page-%d", fig.Page),
			Content:    captions[i],
			FilePath:   fig.FilePath,
			Embedding:  vectors[i],
		})
	}
	return p.db.InsertChunksBatch(ctx, chunkData)
}

// splitText splits text into chunks with overlap
func (p *Processor) splitText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	currentChunk := []string{}
	currentSize := 0

	for _, word := range words {
		wordSize := len(word) + 1 // +1 for space
		if currentSize+wordSize > p.chunkSize && len(currentChunk) > 0 {
			chunks = append(chunks, strings.Join(currentChunk, " "))

			// Keep overlap words for next chunk
			overlapWords := len(currentChunk) * p.chunkOverlap / 100
			if overlapWords > 0 && overlapWords < len(currentChunk) {
				currentChunk = currentChunk[len(currentChunk)-overlapWords:]
				currentSize = len(strings.Join(currentChunk, " "))
			} else {
				currentChunk = []string{}
				currentSize = 0
			}
		}
		currentChunk = append(currentChunk, word)
		currentSize += wordSize
	}

	if len(currentChunk) > 0 {
		chunks = append(chunks, strings.Join(currentChunk, " "))
	}

	return chunks
}

var columnSeparator = regexp.MustCompile(`\t|\|| {2,}`)

// extractTableBlocks splits page text into table blocks and remaining prose.
// A table block is three or more consecutive lines that each contain at
// least two column separators (tabs, pipes, or runs of spaces).
func extractTableBlocks(text string) (tables []string, prose string) {
	lines := strings.Split(text, "\n")
	var proseLines []string
	var block []string

	flush := func() {
		if len(block) >= 3 {
			tables = append(tables, strings.Join(block, "\n"))
		} else {
			proseLines = append(proseLines, block...)
		}
		block = nil
	}

	for _, line := range lines {
		if len(columnSeparator.FindAllStringIndex(strings.TrimSpace(line), -1)) >= 2 {
			block = append(block, line)
			continue
		}
		flush()
		proseLines = append(proseLines, line)
	}
	flush()

	return tables, strings.Join(proseLines, "\n")
}

// computeFileHash computes SHA256 hash of a file
func computeFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
