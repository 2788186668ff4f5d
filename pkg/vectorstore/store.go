// Package vectorstore holds document vectors keyed by their relative path.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"path"
	"time"

	"github.com/google/uuid"
)

// ErrDimensionMismatch is returned when a vector does not match the collection size.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Store is the vector database used by the sync engine
type Store interface {
	// InitializeCollection creates the collection if it does not exist.
	InitializeCollection(ctx context.Context) error
	// StoreDocument upserts the point for key.
	StoreDocument(ctx context.Context, key, content string, vector []float32) error
	// DeleteDocument removes the point for key. Deleting a missing key is not an error.
	DeleteDocument(ctx context.Context, key string) error
	DocumentExists(ctx context.Context, key string) (bool, error)
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Hit, error)
	Info(ctx context.Context) (Info, error)
	Close() error
}

// Hit is a single search result
type Hit struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	FileName  string    `json:"file_name"`
	Body      string    `json:"body"`
	Score     float64   `json:"score"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Info describes a collection
type Info struct {
	Collection string `json:"collection"`
	VectorSize int    `json:"vector_size"`
	Points     int    `json:"points_count"`
}

// PointID derives the stable point identifier for a document key: the first
// 128 bits of SHA-256(key) formatted as a UUID.
func PointID(key string) string {
	sum := sha256.Sum256([]byte(key))
	id, err := uuid.Parse(hex.EncodeToString(sum[:])[:32])
	if err != nil {
		// 32 hex characters always parse.
		panic(err)
	}
	return id.String()
}

func fileName(key string) string {
	return path.Base(key)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
