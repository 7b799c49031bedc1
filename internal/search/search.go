// Package search provides the vector index used for semantic retrieval of
// insights. Qdrant is the production backend; Postgres remains the source of
// truth and callers hydrate full Insight rows from it.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/model"
)

// Result holds an insight ID and its raw similarity score from the index,
// highest first.
type Result struct {
	InsightID uuid.UUID
	Score     float64
}

// Point is the data needed to upsert a single insight into the index.
type Point struct {
	ID        uuid.UUID
	Topic     string
	Phase     model.Phase
	AgentID   uuid.UUID
	Tags      []string
	Embedding []float32
}

// Index is the interface for vector search backends.
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces a point keyed by insight ID.
	Upsert(ctx context.Context, point Point) error

	// Query returns up to topK insight IDs ranked by similarity to the
	// embedding, highest first.
	Query(ctx context.Context, embedding []float32, topK int) ([]Result, error)

	// Delete removes a point from the index. Used by the compensation path
	// when a two-store commit has to be unwound.
	Delete(ctx context.Context, id uuid.UUID) error

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}
