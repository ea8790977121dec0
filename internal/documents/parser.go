package documents

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PageContent holds extracted text for one page
type PageContent struct {
	Number int
	Text   string
}

// FigureData contains a rendered figure file path
type FigureData struct {
	Index    int
	Page     int
	FilePath string
}

// ParsedDocument contains extracted text pages and rendered figures
type ParsedDocument struct {
	Pages   []PageContent
	Figures []FigureData
}

// Parser interface for document parsing
type Parser interface {
	Parse(filePath string) (*ParsedDocument, error)
}

// Pages with fewer words than this are treated as figure-dominant and
// rendered to PNG for vision captioning.
const figurePageWordThreshold = 20

// PDFParser parses PDF files
type PDFParser struct {
	imageDir string
}

// NewPDFParser creates a new PDF parser
func NewPDFParser(imageDir string) *PDFParser {
	return &PDFParser{imageDir: imageDir}
}

// Parse extracts per-page text from a PDF file and renders figure-dominant
// pages as PNG images under the configured image directory.
func (p *PDFParser) Parse(filePath string) (*ParsedDocument, error) {
	doc, err := fitz.New(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if err := os.MkdirAll(p.imageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	parsed := &ParsedDocument{}
	figureIndex := 0

	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}

		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			parsed.Pages = append(parsed.Pages, PageContent{Number: i + 1, Text: trimmed})
		}

		if len(strings.Fields(trimmed)) >= figurePageWordThreshold {
			continue
		}

		// Figure-dominant page: render it for captioning
		img, err := doc.Image(i)
		if err != nil {
			continue
		}

		base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
		imgPath := filepath.Join(p.imageDir, fmt.Sprintf("%s_p%d.png", base, i+1))
		f, err := os.Create(imgPath)
		if err != nil {
			continue
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			os.Remove(imgPath)
			continue
		}
		f.Close()

		parsed.Figures = append(parsed.Figures, FigureData{
			Index:    figureIndex,
			Page:     i + 1,
			FilePath: imgPath,
		})
		figureIndex++
	}

	return parsed, nil
}
