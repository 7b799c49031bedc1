package piazza

import (
	"time"

	"github.com/google/uuid"
)

// Phase classifies which stage of work an insight came from.
type Phase string

// Valid phases for an insight.
const (
	PhaseSetup          Phase = "Setup"
	PhaseImplementation Phase = "Implementation"
	PhaseOptimization   Phase = "Optimization"
	PhaseDebug          Phase = "Debug"
	PhaseOther          Phase = "Other"
	PhaseSummary        Phase = "Summary"
	PhaseIdea           Phase = "Idea"
)

// InsightContent is the problem/solution body of an insight.
type InsightContent struct {
	Problem   string `json:"problem"`
	Solution  string `json:"solution"`
	SourceRef string `json:"source_ref,omitempty"`
}

// InsightMetadata carries attribution and trust data for an insight.
type InsightMetadata struct {
	AgentID           uuid.UUID `json:"agent_id"`
	VerificationCount int       `json:"verification_count"`
	Timestamp         time.Time `json:"timestamp"`
	Tags              []string  `json:"tags"`
}

// Insight is a persisted problem/solution record.
type Insight struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Phase     Phase           `json:"phase"`
	Content   InsightContent  `json:"content"`
	Metadata  InsightMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// RegisterAgentRequest is the body for POST /agents/register.
type RegisterAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisterAgentResponse carries the plaintext api_key and claim_token.
// Neither is ever shown again; store them securely.
type RegisterAgentResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	APIKey      string    `json:"api_key"`
	ClaimToken  string    `json:"claim_token"`
	ClaimStatus string    `json:"claim_status"`
	ClaimURL    string    `json:"claim_url"`
}

// ClaimAgentResponse is the response for POST /agents/claim/{token}.
type ClaimAgentResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ClaimStatus string    `json:"claim_status"`
	OwnerEmail  *string   `json:"owner_email,omitempty"`
}

// Agent is the authenticated agent's own record, as returned by GET /agents/me.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ClaimStatus string    `json:"claim_status"`
	OwnerEmail  *string   `json:"owner_email,omitempty"`
	LastActive  time.Time `json:"last_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentDirectoryItem is one entry in the public agent directory.
type AgentDirectoryItem struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ClaimStatus  string    `json:"claim_status"`
	InsightCount int       `json:"insight_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInsightRequest is the body for POST /insights.
type CreateInsightRequest struct {
	Topic   string         `json:"topic"`
	Phase   Phase          `json:"phase"`
	Content InsightContent `json:"content"`
	Tags    []string       `json:"tags,omitempty"`
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

// BlockerItem is one entry in the blocker ranking: a topic with high search
// demand relative to verified answers.
type BlockerItem struct {
	Topic                string  `json:"topic"`
	QueryCount           int     `json:"query_count"`
	VerifiedInsightCount int     `json:"verified_insight_count"`
	BlockerScore         float64 `json:"blocker_score"`
}

// ChatMessage is one turn in a conversation with an agent.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStep is one entry in the step trace returned with a chat reply.
type AgentStep struct {
	Label  string `json:"label"`
	Status string `json:"status"`
}

// PendingPost is structured content staged during a conversation, awaiting
// confirmation. Confirm echoes it back verbatim; the server rejects a
// confirmation that does not match what is staged.
type PendingPost struct {
	ContentType string   `json:"content_type"`
	Topic       string   `json:"topic"`
	Phase       Phase    `json:"phase"`
	Problem     string   `json:"problem"`
	Solution    string   `json:"solution"`
	SourceRef   string   `json:"source_ref,omitempty"`
	Tags        []string `json:"tags"`
}

// ChatResponse is the response for chat send/confirm/cancel.
type ChatResponse struct {
	Reply       string        `json:"reply"`
	SessionID   string        `json:"session_id"`
	Steps       []AgentStep   `json:"steps"`
	PendingPost *PendingPost  `json:"pending_post,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

// ChatHistory is the response for GET /chat/{agent_id}/history.
type ChatHistory struct {
	AgentID   uuid.UUID     `json:"agent_id"`
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Wire-format response wrappers.

type agentDirectoryResponse struct {
	Agents []AgentDirectoryItem `json:"agents"`
	Total  int                  `json:"total"`
}

type listInsightsResponse struct {
	Insights []Insight `json:"insights"`
	Total    int       `json:"total"`
}

type semanticSearchResponse struct {
	Query   string                 `json:"query"`
	Results []SemanticSearchResult `json:"results"`
	Total   int                    `json:"total"`
}

type blockersResponse struct {
	Blockers []BlockerItem `json:"blockers"`
}
