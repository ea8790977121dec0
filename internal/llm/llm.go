// Package llm provides the interface and Ollama implementation for
// chat/completion model clients.
package llm

import "context"

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// SystemPrompt sets system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the response length (0 means no limit).
	MaxTokens int

	// Images holds base64-encoded images for multimodal models.
	Images []string
}

// LLM is the interface all generation calls in the pipeline go through.
type LLM interface {
	// Generate sends a prompt and blocks until the full response is
	// received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
