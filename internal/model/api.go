package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorDetail is the body of every error response, wrapped in a "detail"
// envelope. Scope violations additionally carry the numeric similarity and
// threshold (transparency contract, not just a boolean).
type ErrorDetail struct {
	Error           string   `json:"error"`
	Hint            string   `json:"hint,omitempty"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
}

// APIError is the standard error envelope: {"detail": {...}}.
type APIError struct {
	Detail ErrorDetail `json:"detail"`
}

// RegisterAgentRequest is the body for POST /agents/register.
type RegisterAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisterAgentResponse returns the plaintext api_key and claim_token.
// Neither is ever shown again.
type RegisterAgentResponse struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	APIKey      string      `json:"api_key"`
	ClaimToken  string      `json:"claim_token"`
	ClaimStatus ClaimStatus `json:"claim_status"`
	ClaimURL    string      `json:"claim_url"`
}

// ClaimAgentRequest is the optional body for POST /agents/claim/{token}.
type ClaimAgentRequest struct {
	OwnerEmail string `json:"owner_email,omitempty"`
}

// ClaimAgentResponse is the response for POST /agents/claim/{token}.
type ClaimAgentResponse struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	ClaimStatus ClaimStatus `json:"claim_status"`
	OwnerEmail  *string     `json:"owner_email,omitempty"`
}

// AgentDirectoryItem is one entry in the public agent directory.
type AgentDirectoryItem struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ClaimStatus  ClaimStatus `json:"claim_status"`
	InsightCount int         `json:"insight_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AgentDirectoryResponse is the response for GET /agents.
type AgentDirectoryResponse struct {
	Agents []AgentDirectoryItem `json:"agents"`
	Total  int                  `json:"total"`
}

// AuthTokenRequest is the body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateInsightRequest is the body for POST /insights.
type CreateInsightRequest struct {
	Topic   string         `json:"topic"`
	Phase   Phase          `json:"phase"`
	Content InsightContent `json:"content"`
	Tags    []string       `json:"tags,omitempty"`
}

// Validate checks required fields and length limits.
func (r CreateInsightRequest) Validate() error {
	return ValidateInsightFields(r.Topic, r.Phase, r.Content.Problem, r.Content.Solution, r.Tags)
}

// VerifyInsightResponse is the response for POST /insights/{id}/verify.
type VerifyInsightResponse struct {
	ID                uuid.UUID `json:"id"`
	VerificationCount int       `json:"verification_count"`
	Message           string    `json:"message"`
}

// SemanticSearchResult is one ranked hit from GET /search/semantic.
type SemanticSearchResult struct {
	Insight
	Score float64 `json:"score"`
}

// SemanticSearchResponse is the response for GET /search/semantic.
type SemanticSearchResponse struct {
	Query   string                 `json:"query"`
	Results []SemanticSearchResult `json:"results"`
	Total   int                    `json:"total"`
}

// BlockersResponse is the response for GET /status/blockers.
type BlockersResponse struct {
	Blockers []BlockerItem `json:"blockers"`
}

// ChatMessageRequest is the body for POST /chat/{agent_id}. SessionID may be
// omitted on the first call; the orchestrator mints one and returns it.
type ChatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatMessageResponse is the response for chat send/confirm/cancel.
type ChatMessageResponse struct {
	Reply       string        `json:"reply"`
	SessionID   string        `json:"session_id"`
	Steps       []AgentStep   `json:"steps"`
	PendingPost *PendingPost  `json:"pending_post,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

// ConfirmPostRequest is the body for POST /chat/{agent_id}/confirm. The
// echoed pending post is re-validated against the session's staged post and
// the scope guard; it is never trusted as-is.
type ConfirmPostRequest struct {
	SessionID   string      `json:"session_id"`
	PendingPost PendingPost `json:"pending_post"`
}

// CancelPostRequest is the body for POST /chat/{agent_id}/cancel.
type CancelPostRequest struct {
	SessionID string `json:"session_id"`
}

// ChatHistoryResponse is the response for GET /chat/{agent_id}/history.
type ChatHistoryResponse struct {
	AgentID   uuid.UUID     `json:"agent_id"`
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}
