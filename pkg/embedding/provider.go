// Package embedding turns document text into vectors for the vector store.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultMaxTokens is the input limit applied before calling a provider.
const DefaultMaxTokens = 8191

// ErrUnavailable is returned when embeddings are requested from a provider
// that has no credentials or backend.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider generates vector embeddings from text
type Provider interface {
	// Available reports whether GenerateEmbedding can be called. Callers
	// substitute ZeroVector when it is false.
	Available() bool
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	OllamaHost string
	Dimension  int
	MaxTokens  int
	Logger     zerolog.Logger
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg)
	case "hash":
		return NewHashProvider(cfg.Dimension, cfg.MaxTokens), nil
	case "", "none":
		return Unavailable{Dim: cfg.Dimension}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// ZeroVector returns a vector of n zeros.
func ZeroVector(n int) []float32 {
	return make([]float32, n)
}

// Unavailable is the provider used when no embedding backend is configured.
type Unavailable struct {
	Dim int
}

func (Unavailable) Available() bool { return false }

func (u Unavailable) Dimension() int { return u.Dim }

func (Unavailable) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}
