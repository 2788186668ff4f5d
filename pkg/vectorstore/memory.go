package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryPoint struct {
	hit    Hit
	vector []float32
}

// MemoryStore is an in-process Store with brute-force cosine search.
type MemoryStore struct {
	mu          sync.RWMutex
	vectorSize  int
	initialized bool
	points      map[string]memoryPoint
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(vectorSize int) *MemoryStore {
	return &MemoryStore{
		vectorSize: vectorSize,
		points:     make(map[string]memoryPoint),
		now:        time.Now,
	}
}

func (m *MemoryStore) InitializeCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

func (m *MemoryStore) StoreDocument(ctx context.Context, key, content string, vector []float32) error {
	if len(vector) != m.vectorSize {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), m.vectorSize)
	}

	id := PointID(key)
	vec := make([]float32, len(vector))
	copy(vec, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = memoryPoint{
		hit: Hit{
			ID:        id,
			Path:      key,
			FileName:  fileName(key),
			Body:      content,
			IndexedAt: m.now().UTC(),
		},
		vector: vec,
	}
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, PointID(key))
	return nil
}

func (m *MemoryStore) DocumentExists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.points[PointID(key)]
	return ok, nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Hit, error) {
	if len(vector) != m.vectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), m.vectorSize)
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.points))
	for _, p := range m.points {
		// Zero vectors have no direction and never match.
		if isZero(p.vector) {
			continue
		}
		score := cosineSimilarity(vector, p.vector)
		if score < threshold {
			continue
		}
		hit := p.hit
		hit.Score = score
		hits = append(hits, hit)
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) Info(ctx context.Context) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{Collection: "memory", VectorSize: m.vectorSize, Points: len(m.points)}, nil
}

// Initialized reports whether InitializeCollection has been called.
func (m *MemoryStore) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Keys returns the stored document keys, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.points))
	for _, p := range m.points {
		keys = append(keys, p.hit.Path)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) Close() error { return nil }

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
