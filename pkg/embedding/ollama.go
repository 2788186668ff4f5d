package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaProvider implements Provider on a local Ollama server via langchaingo.
type OllamaProvider struct {
	model     embeddings.Embedder
	modelName string
	dimension int
	maxTokens int
	logger    zerolog.Logger
}

// NewOllamaProvider connects the langchaingo Ollama client.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	name := cfg.Model
	if name == "" {
		name = DefaultOllamaModel
	}

	opts := []ollama.Option{ollama.WithModel(name)}
	if cfg.OllamaHost != "" {
		opts = append(opts, ollama.WithServerURL(cfg.OllamaHost))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	model, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	return &OllamaProvider{
		model:     model,
		modelName: name,
		dimension: cfg.Dimension,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}, nil
}

func (p *OllamaProvider) Available() bool { return true }

func (p *OllamaProvider) Dimension() int { return p.dimension }

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	input := Truncate(text, p.maxTokens)

	start := time.Now()
	vectors, err := p.model.EmbedDocuments(ctx, []string{input})
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("model", p.modelName).
			Dur("duration", time.Since(start)).
			Msg("Embedding failed")
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vector := vectors[0]
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(vector), p.dimension)
	}
	return vector, nil
}
