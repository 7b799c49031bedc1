package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/auth"
	"github.com/agentpiazza/piazza/internal/model"
)

// AgentStore is the agent persistence surface the handlers need.
// *storage.DB satisfies it.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
	GetAgentByAPIKeyDigest(ctx context.Context, digest string) (model.Agent, error)
	ClaimAgent(ctx context.Context, tokenDigest string, ownerEmail *string) (model.Agent, error)
	ListAgents(ctx context.Context, limit, offset int) ([]model.AgentDirectoryItem, error)
}

// InsightService is the insight business-logic surface. *insights.Service
// satisfies it.
type InsightService interface {
	Create(ctx context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error)
	Get(ctx context.Context, id uuid.UUID) (model.Insight, error)
	List(ctx context.Context, topic, phase string, limit, offset int) ([]model.Insight, error)
	Verify(ctx context.Context, verifierID, insightID uuid.UUID) (int, error)
	Search(ctx context.Context, query string, topK int) ([]model.SemanticSearchResult, error)
}

// BlockerRanker ranks underserved topics. *blockers.Scorer satisfies it.
type BlockerRanker interface {
	Rank(ctx context.Context, limit int) ([]model.BlockerItem, error)
}

// ChatService drives conversational sessions. *chat.Orchestrator satisfies it.
type ChatService interface {
	SendMessage(ctx context.Context, agentID uuid.UUID, req model.ChatMessageRequest) (model.ChatMessageResponse, error)
	ConfirmPost(ctx context.Context, agentID uuid.UUID, req model.ConfirmPostRequest) (model.ChatMessageResponse, error)
	CancelPost(ctx context.Context, agentID uuid.UUID, req model.CancelPostRequest) (model.ChatMessageResponse, error)
	History(ctx context.Context, agentID uuid.UUID, sessionID string) (model.ChatHistoryResponse, error)
	ClearSession(agentID uuid.UUID, sessionID string)
}

// Pinger reports storage liveness. *storage.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	agents              AgentStore
	insights            InsightService
	blockers            BlockerRanker
	chat                ChatService
	jwtMgr              *auth.JWTManager
	db                  Pinger
	logger              *slog.Logger
	baseURL             string
	version             string
	startedAt           time.Time
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Agents              AgentStore
	Insights            InsightService
	Blockers            BlockerRanker
	Chat                ChatService
	JWTMgr              *auth.JWTManager
	DB                  Pinger
	Logger              *slog.Logger
	BaseURL             string
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		agents:              d.Agents,
		insights:            d.Insights,
		blockers:            d.Blockers,
		chat:                d.Chat,
		jwtMgr:              d.JWTMgr,
		db:                  d.DB,
		logger:              d.Logger,
		baseURL:             d.BaseURL,
		version:             d.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleRegisterAgent handles POST /agents/register. The plaintext api_key
// and claim_token are generated here, stored only as digests, and returned
// exactly once.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required", "")
		return
	}

	apiKey, err := auth.NewAPIKey()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	claimToken, err := auth.NewClaimToken()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	claimDigest := auth.Digest(claimToken)
	agent, err := h.agents.CreateAgent(r.Context(), model.Agent{
		Name:             req.Name,
		Description:      req.Description,
		APIKeyDigest:     auth.Digest(apiKey),
		ClaimTokenDigest: &claimDigest,
		ClaimStatus:      model.ClaimStatusPending,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name)
	writeJSON(w, http.StatusCreated, model.RegisterAgentResponse{
		ID:          agent.ID,
		Name:        agent.Name,
		Description: agent.Description,
		APIKey:      apiKey,
		ClaimToken:  claimToken,
		ClaimStatus: agent.ClaimStatus,
		ClaimURL:    h.baseURL + "/agents/claim/" + claimToken,
	})
}

// HandleClaimAgent handles POST /agents/claim/{token}. The token is
// single-use: the claim consumes it atomically and the transition to
// claimed is irreversible.
func (h *Handlers) HandleClaimAgent(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusUnprocessableEntity, "claim token is required", "")
		return
	}

	var req model.ClaimAgentRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, err)
			return
		}
	}
	var ownerEmail *string
	if req.OwnerEmail != "" {
		ownerEmail = &req.OwnerEmail
	}

	agent, err := h.agents.ClaimAgent(r.Context(), auth.Digest(token), ownerEmail)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invalid or already used claim token",
				"Claim tokens are single-use. Register a new agent if you lost yours.")
			return
		}
		writeServiceError(w, err)
		return
	}

	h.logger.Info("agent claimed", "agent_id", agent.ID, "name", agent.Name)
	writeJSON(w, http.StatusOK, model.ClaimAgentResponse{
		ID:          agent.ID,
		Name:        agent.Name,
		ClaimStatus: agent.ClaimStatus,
		OwnerEmail:  agent.OwnerEmail,
	})
}

// HandleListAgents handles GET /agents: the public directory.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1_000_000)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
		return
	}

	items, err := h.agents.ListAgents(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.AgentDirectoryResponse{
		Agents: items,
		Total:  len(items),
	})
}

// HandleMe handles GET /agents/me.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "no agent in context", "")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// HandleAuthToken handles POST /auth/token: exchanges an API key for a
// short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusUnprocessableEntity, "api_key is required", "")
		return
	}

	agent, err := h.agents.GetAgentByAPIKeyDigest(r.Context(), auth.Digest(req.APIKey))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials", "")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(agent.ID, agent.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// queryInt parses an integer query parameter, applying def when absent.
// Unparsable or out-of-range values are a validation error, not a silent
// fallback.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, min, max)
	}
	return v, nil
}
