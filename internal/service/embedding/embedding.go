// Package embedding provides vector embedding generation for the scope guard
// and semantic search.
//
// Defines a Provider interface with an Ollama implementation for production
// and a deterministic static provider for tests and demos. The interface
// allows swapping embedding providers without changing consumers.
package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text. Implementations must be
// safe for concurrent use and deterministic for identical text and model.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// StaticProvider derives a deterministic unit vector from the text itself.
// It stands in for a real model in tests and demo deployments: identical
// texts embed identically.
type StaticProvider struct {
	dims int
}

// NewStaticProvider creates a deterministic embedding provider.
func NewStaticProvider(dims int) *StaticProvider {
	return &StaticProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *StaticProvider) Dimensions() int {
	return p.dims
}

// Embed returns a unit vector seeded by an FNV hash of the text.
func (p *StaticProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	vec := make([]float32, p.dims)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 1
	}

	var norm float64
	for i := range vec {
		// xorshift64 keeps the sequence deterministic per input text.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state))/math.MaxInt64 - 0.5
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return pgvector.NewVector(vec), nil
}
