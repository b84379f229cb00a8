package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// FallbackEmbedder produces a deterministic hash-derived unit vector. It is
// the degraded path used when the embedding collaborator is unavailable:
// identical text always maps to the identical vector, so retrieval stays
// self-consistent even with reduced fidelity.
type FallbackEmbedder struct {
	dimensions int
}

// NewFallbackEmbedder creates a fallback embedder of the given
// dimensionality.
func NewFallbackEmbedder(dimensions int) *FallbackEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &FallbackEmbedder{dimensions: dimensions}
}

func (f *FallbackEmbedder) Dimensions() int { return f.dimensions }

func (f *FallbackEmbedder) Close() error { return nil }

// Embed derives each component from an FNV-1a hash chain over the text.
// Mode is ignored: the fallback is symmetric by construction.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.dimensions)
	var norm float64
	state := seed
	for i := range vec {
		// xorshift64 over the hash seed gives a stable pseudo-random spread.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map to [-1, 1).
		vec[i] = float32(int64(state))/float32(math.MaxInt64)
		norm += float64(vec[i]) * float64(vec[i])
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
