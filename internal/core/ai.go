package core

import "context"

// EmbeddingProvider turns text into fixed-dimensionality vectors. The same
// provider (and model) must be used at ingestion and query time; mixing
// embedding models across query and corpus silently degrades retrieval.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider generates a completion for a grounded prompt.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error)
}
