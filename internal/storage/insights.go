package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/agentpiazza/piazza/internal/model"
)

const insightColumns = `id, topic, phase, problem, solution, source_ref, agent_id, verification_count, tags, created_at`

func scanInsight(row pgx.Row) (model.Insight, error) {
	var in model.Insight
	var phase string
	var sourceRef *string
	err := row.Scan(&in.ID, &in.Topic, &phase, &in.Content.Problem, &in.Content.Solution,
		&sourceRef, &in.Metadata.AgentID, &in.Metadata.VerificationCount,
		&in.Metadata.Tags, &in.CreatedAt)
	if err != nil {
		return model.Insight{}, err
	}
	in.Phase = model.Phase(phase)
	if sourceRef != nil {
		in.Content.SourceRef = *sourceRef
	}
	if in.Metadata.Tags == nil {
		in.Metadata.Tags = []string{}
	}
	in.Metadata.Timestamp = in.CreatedAt
	return in, nil
}

// CreateInsight inserts a new insight together with its embedding.
// The embedding lives in Postgres so the vector index can be rebuilt; the
// caller is responsible for the index upsert and any compensation.
func (db *DB) CreateInsight(ctx context.Context, in model.Insight, embedding pgvector.Vector) (model.Insight, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	in.Metadata.Timestamp = in.CreatedAt
	if in.Metadata.Tags == nil {
		in.Metadata.Tags = []string{}
	}

	var sourceRef *string
	if in.Content.SourceRef != "" {
		sourceRef = &in.Content.SourceRef
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO insights (id, topic, phase, problem, solution, source_ref, agent_id, verification_count, tags, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.ID, in.Topic, string(in.Phase), in.Content.Problem, in.Content.Solution,
		sourceRef, in.Metadata.AgentID, in.Metadata.VerificationCount, in.Metadata.Tags,
		embedding, in.CreatedAt,
	)
	if err != nil {
		return model.Insight{}, fmt.Errorf("storage: create insight: %w", err)
	}
	return in, nil
}

// DeleteInsight removes an insight row. Used as the compensating action when
// the vector index upsert fails after the store write succeeded.
func (db *DB) DeleteInsight(ctx context.Context, id uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM insights WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete insight: %w", err)
	}
	return nil
}

// GetInsight returns an insight by ID.
func (db *DB) GetInsight(ctx context.Context, id uuid.UUID) (model.Insight, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = $1`, id)
	in, err := scanInsight(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Insight{}, fmt.Errorf("storage: get insight: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Insight{}, fmt.Errorf("storage: get insight: %w", err)
	}
	return in, nil
}

// GetInsightsByIDs returns the insights matching ids, keyed by ID. Missing
// rows are silently absent (they may have been deleted between the index
// query and hydration).
func (db *DB) GetInsightsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Insight, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.Insight{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get insights by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.Insight, len(ids))
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan insight: %w", err)
		}
		out[in.ID] = in
	}
	return out, rows.Err()
}

// ListInsights returns recent insights with optional case-insensitive
// topic/phase substring filters, newest first.
func (db *DB) ListInsights(ctx context.Context, topic, phase string, limit, offset int) ([]model.Insight, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM insights
		 WHERE ($1 = '' OR topic ILIKE '%' || $1 || '%')
		   AND ($2 = '' OR phase ILIKE '%' || $2 || '%')
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		topic, phase, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list insights: %w", err)
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// ListInsightsByAgent returns an agent's insights ordered by verification
// count then recency, for grounding the agent's chat system prompt.
func (db *DB) ListInsightsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]model.Insight, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM insights
		 WHERE agent_id = $1
		 ORDER BY verification_count DESC, created_at DESC
		 LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list insights by agent: %w", err)
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// VerifyInsight atomically increments an insight's verification count,
// refusing the increment when verifierID owns the insight. The ownership
// check and increment happen in one statement, so concurrent verifiers
// cannot lose updates and an owner can never slip through.
func (db *DB) VerifyInsight(ctx context.Context, id, verifierID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`UPDATE insights
		 SET verification_count = verification_count + 1
		 WHERE id = $1 AND agent_id <> $2
		 RETURNING verification_count`,
		id, verifierID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing insight from a self-verification attempt.
		var exists bool
		if checkErr := db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM insights WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("storage: verify insight: %w", checkErr)
		}
		if exists {
			return 0, fmt.Errorf("storage: verify insight: %w", model.ErrSelfVerification)
		}
		return 0, fmt.Errorf("storage: verify insight: %w", model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("storage: verify insight: %w", err)
	}
	return count, nil
}

// VerifiedInsightCounts returns, for each topic in topics, the number of
// insights with verification_count > 0. Topics with no verified insights are
// absent from the map.
func (db *DB) VerifiedInsightCounts(ctx context.Context, topics []string) (map[string]int, error) {
	if len(topics) == 0 {
		return map[string]int{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT topic, count(*) FROM insights
		 WHERE topic = ANY($1) AND verification_count > 0
		 GROUP BY topic`,
		topics)
	if err != nil {
		return nil, fmt.Errorf("storage: verified insight counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("storage: scan verified count: %w", err)
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}
