package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider implements Provider for the OpenAI embeddings API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
	maxTokens int
	enabled   bool
	logger    zerolog.Logger
}

// NewOpenAIProvider creates a new OpenAI embedding provider. Without an API
// key the provider reports itself unavailable.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: cfg.Dimension,
		maxTokens: cfg.MaxTokens,
		enabled:   cfg.APIKey != "",
		logger:    cfg.Logger,
	}
}

func (p *OpenAIProvider) Available() bool { return p.enabled }

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if !p.enabled {
		return nil, ErrUnavailable
	}

	input := Truncate(text, p.maxTokens)
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{input}},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	raw := resp.Data[0].Embedding
	if len(raw) != p.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(raw), p.dimension)
	}

	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}

	p.logger.Debug().
		Str("model", p.model).
		Int("chars", len(input)).
		Msg("Generated embedding")

	return vector, nil
}
