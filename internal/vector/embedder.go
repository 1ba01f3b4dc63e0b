// Package vector provides interfaces and utilities for vector
// operations and text embedding within the AgentStore service.
package vector

import (
	"context"
	"fmt"
)

const (
	// DefaultEmbeddingDimensions defines the standard size of embedding vectors.
	// 1536 is a common size for modern embedding models.
	DefaultEmbeddingDimensions = 1536

	// Provider names accepted by NewEmbedder.
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
)

// Embedder defines the interface for creating vector embeddings from text.
// Implementations must be deterministic enough for repeated retrieval
// over the same text to be meaningful.
type Embedder interface {
	// CreateEmbedding converts text into a vector representation.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Initialize sets up the embedder with any required configuration.
	Initialize() error
}

// Config holds the construction parameters common to embedding providers.
type Config struct {
	APIKey     string
	ModelID    string
	Dimensions int
}

// NewEmbedder returns an embedder for the named provider.
func NewEmbedder(provider string, cfg Config) (Embedder, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	cfg.Dimensions = dims
	switch provider {
	case ProviderMock, "":
		return NewMockEmbedder(dims), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", provider)
	}
}
