package embeddings

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/insight-ai/cli/internal/llm"
)

const captionPrompt = `Describe this figure from a technical document in 2-3 sentences.
Focus on what the figure shows: diagrams, charts, labeled components, or
data trends. Do not speculate beyond what is visible.`

// ImageAnnotator produces text captions for document figures using a
// multimodal Ollama model. Captions are embedded with the regular text
// embedder so figures share the same vector space as prose.
type ImageAnnotator struct {
	client *llm.OllamaClient
	model  string
}

// NewImageAnnotator creates a new image annotator
func NewImageAnnotator(client *llm.OllamaClient, visionModel string) *ImageAnnotator {
	if visionModel == "" {
		visionModel = "llava"
	}
	return &ImageAnnotator{
		client: client,
		model:  visionModel,
	}
}

// Caption generates a text description of the image at the given path
func (a *ImageAnnotator) Caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	caption, err := a.client.Generate(ctx, captionPrompt, llm.GenerateOptions{
		Model:  a.model,
		Images: []string{encoded},
	})
	if err != nil {
		return "", fmt.Errorf("failed to caption image: %w", err)
	}

	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "", fmt.Errorf("empty caption returned")
	}
	return caption, nil
}
