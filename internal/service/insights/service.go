// Package insights provides the shared business logic for insight
// operations.
//
// The HTTP API, the chat orchestrator, and the MCP server all delegate to
// this service, so scope gating, the two-store commit, and verification
// behave identically regardless of entry point.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentpiazza/piazza/internal/model"
	"github.com/agentpiazza/piazza/internal/scope"
	"github.com/agentpiazza/piazza/internal/search"
	"github.com/agentpiazza/piazza/internal/service/embedding"
	"github.com/agentpiazza/piazza/internal/telemetry"
)

// Store is the subset of the storage layer the service needs. *storage.DB
// satisfies it; tests substitute fakes.
type Store interface {
	CreateInsight(ctx context.Context, in model.Insight, embedding pgvector.Vector) (model.Insight, error)
	DeleteInsight(ctx context.Context, id uuid.UUID) error
	GetInsight(ctx context.Context, id uuid.UUID) (model.Insight, error)
	GetInsightsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Insight, error)
	ListInsights(ctx context.Context, topic, phase string, limit, offset int) ([]model.Insight, error)
	VerifyInsight(ctx context.Context, id, verifierID uuid.UUID) (int, error)
	IncrementQueryCount(ctx context.Context, topic string) error
}

// Service encapsulates insight business logic shared by HTTP, chat, and MCP.
type Service struct {
	store    Store
	index    search.Index
	embedder embedding.Provider
	guard    *scope.Guard
	logger   *slog.Logger

	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
}

// New creates a new insight Service.
func New(store Store, index search.Index, embedder embedding.Provider, guard *scope.Guard, logger *slog.Logger) *Service {
	meter := telemetry.Meter("piazza/insights")
	embDur, _ := meter.Float64Histogram("piazza.embedding.duration",
		metric.WithDescription("Time to generate embeddings (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("piazza.search.duration",
		metric.WithDescription("Time to execute semantic search queries (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:             store,
		index:             index,
		embedder:          embedder,
		guard:             guard,
		logger:            logger,
		embeddingDuration: embDur,
		searchDuration:    searchDur,
	}
}

// Create runs the scope guard and, on acceptance, persists the insight and
// indexes its embedding as a single logical unit: if the index upsert fails
// after the store write, the row is deleted again and the operation reports
// failure. Nothing is ever written for content the guard rejects.
func (s *Service) Create(ctx context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error) {
	if err := req.Validate(); err != nil {
		return model.Insight{}, err
	}

	text := scope.ContentText(req.Topic, req.Phase, req.Content.Problem, req.Content.Solution)
	res, err := s.guard.Evaluate(ctx, text)
	if err != nil {
		return model.Insight{}, err
	}
	if !res.Accepted {
		return model.Insight{}, &model.ScopeViolationError{
			Similarity: res.Similarity,
			Threshold:  res.Threshold,
		}
	}

	embStart := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return model.Insight{}, fmt.Errorf("insights: embed content: %w: %w", model.ErrProviderUnavailable, err)
	}
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))

	insight := model.Insight{
		Topic:   req.Topic,
		Phase:   req.Phase,
		Content: req.Content,
		Metadata: model.InsightMetadata{
			AgentID: agentID,
			Tags:    req.Tags,
		},
	}
	insight, err = s.store.CreateInsight(ctx, insight, vec)
	if err != nil {
		return model.Insight{}, fmt.Errorf("insights: %w: %w", model.ErrProviderUnavailable, err)
	}

	if err := s.index.Upsert(ctx, search.Point{
		ID:        insight.ID,
		Topic:     insight.Topic,
		Phase:     insight.Phase,
		AgentID:   agentID,
		Tags:      insight.Metadata.Tags,
		Embedding: vec.Slice(),
	}); err != nil {
		// Unwind the store write so the two stores never diverge. If the
		// compensation itself fails we log loudly; the row carries its
		// embedding, so a reindex pass can reconcile it later.
		if delErr := s.store.DeleteInsight(ctx, insight.ID); delErr != nil {
			s.logger.Error("insights: compensating delete failed, stores inconsistent",
				"insight_id", insight.ID, "upsert_error", err, "delete_error", delErr)
		}
		return model.Insight{}, fmt.Errorf("insights: index upsert: %w: %w", model.ErrProviderUnavailable, err)
	}

	return insight, nil
}

// Get fetches a single insight.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Insight, error) {
	return s.store.GetInsight(ctx, id)
}

// List returns recent insights with optional topic/phase filters.
func (s *Service) List(ctx context.Context, topic, phase string, limit, offset int) ([]model.Insight, error) {
	return s.store.ListInsights(ctx, topic, phase, limit, offset)
}

// Verify atomically increments an insight's verification count on behalf of
// verifierID. Owners can never verify their own insights.
func (s *Service) Verify(ctx context.Context, verifierID, insightID uuid.UUID) (int, error) {
	return s.store.VerifyInsight(ctx, insightID, verifierID)
}

// Search embeds the query, asks the vector index for the top-k nearest
// insights, and hydrates full rows from the store (index order preserved).
// Each call increments the query counter for the topic of the best match,
// feeding the blocker scorer.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]model.SemanticSearchResult, error) {
	embStart := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("insights: embed query: %w: %w", model.ErrProviderUnavailable, err)
	}
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))

	searchStart := time.Now()
	hits, err := s.index.Query(ctx, vec.Slice(), topK)
	if err != nil {
		return nil, fmt.Errorf("insights: index query: %w: %w", model.ErrProviderUnavailable, err)
	}
	s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.InsightID
	}
	rows, err := s.store.GetInsightsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("insights: hydrate results: %w: %w", model.ErrProviderUnavailable, err)
	}

	results := make([]model.SemanticSearchResult, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.InsightID]
		if !ok {
			// Deleted between index query and hydration.
			continue
		}
		results = append(results, model.SemanticSearchResult{Insight: row, Score: h.Score})
	}

	// Attribute the search to the topic of its best match. A failed
	// increment must not fail the search itself.
	if len(results) > 0 {
		if err := s.store.IncrementQueryCount(ctx, results[0].Topic); err != nil {
			s.logger.Warn("insights: query count increment failed", "topic", results[0].Topic, "error", err)
		}
	}

	return results, nil
}
