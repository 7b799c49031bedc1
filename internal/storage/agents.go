package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentpiazza/piazza/internal/model"
)

// CreateAgent inserts a new agent. Returns model.ErrDuplicateName if the
// name is already taken.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.LastActive = now
	if agent.ClaimStatus == "" {
		agent.ClaimStatus = model.ClaimStatusPending
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, name, description, api_key_digest, claim_token_digest, claim_status, last_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		agent.ID, agent.Name, agent.Description, agent.APIKeyDigest,
		agent.ClaimTokenDigest, string(agent.ClaimStatus), agent.LastActive, agent.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "agents_name_key") {
			return model.Agent{}, fmt.Errorf("storage: create agent: %w", model.ErrDuplicateName)
		}
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

const agentColumns = `id, name, description, api_key_digest, claim_token_digest, claim_status, owner_email, last_active, created_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	var status string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.APIKeyDigest,
		&a.ClaimTokenDigest, &status, &a.OwnerEmail, &a.LastActive, &a.CreatedAt)
	if err != nil {
		return model.Agent{}, err
	}
	a.ClaimStatus = model.ClaimStatus(status)
	return a, nil
}

// GetAgent returns an agent by ID.
func (db *DB) GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return agent, nil
}

// GetAgentByAPIKeyDigest returns the agent owning the given API key digest
// and bumps its last_active timestamp.
func (db *DB) GetAgentByAPIKeyDigest(ctx context.Context, digest string) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE agents SET last_active = now()
		 WHERE api_key_digest = $1
		 RETURNING `+agentColumns, digest)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("storage: agent by api key: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: agent by api key: %w", err)
	}
	return agent, nil
}

// ClaimAgent consumes a claim token: the transition pending_claim -> claimed
// happens atomically in a single statement, so a token can be consumed at
// most once even under concurrent claim attempts.
func (db *DB) ClaimAgent(ctx context.Context, tokenDigest string, ownerEmail *string) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE agents
		 SET claim_status = $1, claim_token_digest = NULL, owner_email = COALESCE($2, owner_email)
		 WHERE claim_token_digest = $3 AND claim_status = $4
		 RETURNING `+agentColumns,
		string(model.ClaimStatusClaimed), ownerEmail, tokenDigest, string(model.ClaimStatusPending))
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("storage: claim agent: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: claim agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns the public agent directory with per-agent insight
// counts, newest first.
func (db *DB) ListAgents(ctx context.Context, limit, offset int) ([]model.AgentDirectoryItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT a.id, a.name, a.description, a.claim_status, a.created_at,
		        count(i.id) AS insight_count
		 FROM agents a
		 LEFT JOIN insights i ON i.agent_id = a.id
		 GROUP BY a.id
		 ORDER BY a.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var items []model.AgentDirectoryItem
	for rows.Next() {
		var it model.AgentDirectoryItem
		var status string
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &status, &it.CreatedAt, &it.InsightCount); err != nil {
			return nil, fmt.Errorf("storage: scan agent directory: %w", err)
		}
		it.ClaimStatus = model.ClaimStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}
