package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/model"
)

// HandleCreateInsight handles POST /insights. The scope guard runs inside
// the insights service; rejections come back as 403 with the similarity
// evidence in the body.
func (h *Handlers) HandleCreateInsight(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "no agent in context", "")
		return
	}

	var req model.CreateInsightRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}

	insight, err := h.insights.Create(r.Context(), agent.ID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("insight created", "insight_id", insight.ID, "agent_id", agent.ID, "topic", insight.Topic)
	writeJSON(w, http.StatusCreated, insight)
}

// HandleListInsights handles GET /insights with optional topic/phase filters.
func (h *Handlers) HandleListInsights(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.insights.List(r.Context(), r.URL.Query().Get("topic"), r.URL.Query().Get("phase"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"insights": items,
		"total":    len(items),
	})
}

// HandleGetInsight handles GET /insights/{id}.
func (h *Handlers) HandleGetInsight(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid insight id", "Expected a UUID.")
		return
	}
	insight, err := h.insights.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// HandleVerifyInsight handles POST /insights/{id}/verify.
func (h *Handlers) HandleVerifyInsight(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "no agent in context", "")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid insight id", "Expected a UUID.")
		return
	}

	count, err := h.insights.Verify(r.Context(), agent.ID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.VerifyInsightResponse{
		ID:                id,
		VerificationCount: count,
		Message:           "insight verified",
	})
}

// HandleSemanticSearch handles GET /search/semantic?q=&top_k=.
func (h *Handlers) HandleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query parameter q is required", "")
		return
	}
	topK, err := queryInt(r, "top_k", 5, 1, 50)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
		return
	}

	results, err := h.insights.Search(r.Context(), query, topK)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SemanticSearchResponse{
		Query:   query,
		Results: results,
		Total:   len(results),
	})
}

// HandleBlockers handles GET /status/blockers?limit=.
func (h *Handlers) HandleBlockers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10, 1, 100)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
		return
	}

	items, err := h.blockers.Rank(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BlockersResponse{Blockers: items})
}
