// Package index implements the semantic index: vector similarity lookup
// over episode embeddings, behind swappable backends.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// index dimensionality.
var ErrDimensionMismatch = errors.New("vector dimensionality mismatch")

// DefaultDimensions is the default embedding dimensionality.
const DefaultDimensions = 768

// Hit is a ranked similarity result.
type Hit struct {
	ID    string    `json:"id"`
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Filter constrains a nearest-neighbor lookup. Visible delegates the
// temporal visibility rule to the caller so the query engine applies one
// rule on both of its branches.
type Filter struct {
	// MinScore discards results below this cosine similarity.
	MinScore float64
	// Visible reports whether an indexed id may appear in results.
	// nil means everything is visible.
	Visible func(id string) bool
}

func (f *Filter) admits(id string, score float64) bool {
	if f == nil {
		return true
	}
	if score < f.MinScore {
		return false
	}
	if f.Visible != nil && !f.Visible(id) {
		return false
	}
	return true
}

// VectorIndex associates ids with fixed-dimensionality vectors and answers
// cosine-similarity lookups, ranked descending with ties broken by recency.
type VectorIndex interface {
	// Index associates id with a vector observed at the given instant.
	// Re-indexing an id replaces its vector.
	Index(ctx context.Context, id string, vector []float32, at time.Time) error
	// Remove drops an id from the index. Unknown ids are a no-op.
	Remove(ctx context.Context, id string) error
	// Nearest returns up to k hits ranked by cosine similarity descending,
	// ties broken by recency, filtered by f.
	Nearest(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error)
	// Dimensions returns the index dimensionality.
	Dimensions() int
	Close() error
}

// Config selects and configures an index backend.
type Config struct {
	// Driver is one of "memory", "sqlitevec". Empty defaults to memory.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database location for the sqlitevec backend.
	Path string `mapstructure:"path" yaml:"path"`
	// Dimensions is the embedding dimensionality (default 768).
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions"`
	// MinScore is the default similarity floor applied when a lookup
	// carries no filter.
	MinScore float64 `mapstructure:"min_score" yaml:"min_score"`
}

// Open creates a VectorIndex for the configured backend.
func Open(cfg Config) (VectorIndex, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryIndex(dims), nil
	case "sqlitevec":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlitevec index requires a path")
		}
		return OpenSQLiteVecIndex(cfg.Path, dims)
	default:
		return nil, fmt.Errorf("unsupported index driver: %s (supported: memory, sqlitevec)", cfg.Driver)
	}
}
