package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
)

// HashProvider derives a deterministic pseudo-embedding from the SHA-256 of
// the text. Identical text always maps to the same unit vector; it carries
// no semantic similarity and is meant for development and tests.
type HashProvider struct {
	dimension int
	maxTokens int
}

// NewHashProvider creates a hash-based provider
func NewHashProvider(dimension, maxTokens int) *HashProvider {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &HashProvider{dimension: dimension, maxTokens: maxTokens}
}

func (p *HashProvider) Available() bool { return true }

func (p *HashProvider) Dimension() int { return p.dimension }

func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(Truncate(text, p.maxTokens)))
	digest := hex.EncodeToString(sum[:])

	vector := make([]float32, p.dimension)
	var norm float64
	for i := range vector {
		idx := (i * 8) % len(digest)
		v, err := strconv.ParseUint(digest[idx:idx+8], 16, 32)
		if err != nil {
			return nil, err
		}
		vector[i] = float32(v)
		norm += float64(v) * float64(v)
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}
