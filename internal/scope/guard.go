// Package scope implements the gate that decides whether candidate content
// belongs in the knowledge base.
//
// The guard embeds the candidate text and compares it against a single
// reference vector computed once from the configured scope description.
// It is a pure function of (text, reference vector, threshold): no side
// effects, no persistence, identical behavior for every caller. Direct
// insight submission and chat-confirmed posting run through the same code,
// so neither entry point can bypass the gate.
package scope

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/agentpiazza/piazza/internal/model"
	"github.com/agentpiazza/piazza/internal/service/embedding"
)

// Result is the outcome of a completed scope evaluation. The numeric
// similarity and threshold are always populated so rejections can be
// presented as actionable, debuggable errors.
type Result struct {
	Accepted   bool
	Similarity float64
	Threshold  float64
}

// Guard evaluates candidate text against the platform scope.
type Guard struct {
	embedder  embedding.Provider
	scopeText string
	threshold float64

	// The reference vector is computed at most once per process and shared
	// read-only afterwards. singleflight collapses concurrent first calls;
	// the pointer is only stored on success, so an embedding failure is
	// retried by the next caller instead of being cached forever.
	refGroup singleflight.Group
	ref      atomic.Pointer[[]float32]
}

// New creates a Guard. The reference embedding is computed lazily on the
// first evaluation, not here, so construction never needs the provider.
func New(embedder embedding.Provider, scopeDescription string, threshold float64) *Guard {
	return &Guard{
		embedder:  embedder,
		scopeText: scopeDescription,
		threshold: threshold,
	}
}

// Threshold returns the configured acceptance threshold.
func (g *Guard) Threshold() float64 {
	return g.threshold
}

// ContentText concatenates the fields of a candidate post into the single
// string the guard (and the search index) embeds.
func ContentText(topic string, phase model.Phase, problem, solution string) string {
	return strings.Join([]string{topic, string(phase), problem, solution}, " ")
}

// Evaluate embeds the candidate text and accepts iff its cosine similarity
// against the reference vector is at least the threshold. A provider failure
// surfaces as model.ErrProviderUnavailable; it is never silently mapped to
// an accept or a reject.
func (g *Guard) Evaluate(ctx context.Context, candidateText string) (Result, error) {
	ref, err := g.reference(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scope: reference embedding: %w: %w", model.ErrProviderUnavailable, err)
	}

	vec, err := g.embedder.Embed(ctx, candidateText)
	if err != nil {
		return Result{}, fmt.Errorf("scope: embed candidate: %w: %w", model.ErrProviderUnavailable, err)
	}

	sim := cosineSimilarity(ref, vec.Slice())
	return Result{
		Accepted:   sim >= g.threshold,
		Similarity: sim,
		Threshold:  g.threshold,
	}, nil
}

// reference returns the cached scope embedding, computing it on first use.
func (g *Guard) reference(ctx context.Context) ([]float32, error) {
	if ref := g.ref.Load(); ref != nil {
		return *ref, nil
	}

	v, err, _ := g.refGroup.Do("scope-reference", func() (any, error) {
		if ref := g.ref.Load(); ref != nil {
			return *ref, nil
		}
		vec, err := g.embedder.Embed(ctx, g.scopeText)
		if err != nil {
			return nil, err
		}
		ref := vec.Slice()
		g.ref.Store(&ref)
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Vectors from the provider are not assumed to be unit-normalized.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
