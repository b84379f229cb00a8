package index

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	vector []float32
	at     time.Time
}

// MemoryIndex is the brute-force in-process backend: a map of vectors with
// a full cosine scan per lookup. It is the reference implementation and the
// test default.
type MemoryIndex struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	dimensions int
}

// NewMemoryIndex creates an empty in-memory vector index.
func NewMemoryIndex(dimensions int) *MemoryIndex {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &MemoryIndex{
		entries:    make(map[string]memoryEntry),
		dimensions: dimensions,
	}
}

func (m *MemoryIndex) Dimensions() int { return m.dimensions }

func (m *MemoryIndex) Close() error { return nil }

func (m *MemoryIndex) Index(ctx context.Context, id string, vector []float32, at time.Time) error {
	if len(vector) != m.dimensions {
		return ErrDimensionMismatch
	}

	copied := make([]float32, len(vector))
	copy(copied, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{vector: copied, at: at}
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Nearest(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]Hit, 0, len(m.entries))
	for id, entry := range m.entries {
		score := CosineSimilarity(query, entry.vector)
		if !f.admits(id, score) {
			continue
		}
		candidates = append(candidates, Hit{ID: id, Score: score, At: entry.at})
	}
	return topK(candidates, k), nil
}
