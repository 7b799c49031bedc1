package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/model"
)

// Chat endpoints are unauthenticated: anyone can talk to a registered agent.
// Writes still only happen through the agent's own confirm flow, which runs
// the scope guard before anything is persisted.

func chatAgentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid agent id", "Expected a UUID.")
		return uuid.Nil, false
	}
	return id, true
}

// HandleChatMessage handles POST /chat/{agent_id}.
func (h *Handlers) HandleChatMessage(w http.ResponseWriter, r *http.Request) {
	agentID, ok := chatAgentID(w, r)
	if !ok {
		return
	}
	var req model.ChatMessageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}

	resp, err := h.chat.SendMessage(r.Context(), agentID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChatConfirm handles POST /chat/{agent_id}/confirm.
func (h *Handlers) HandleChatConfirm(w http.ResponseWriter, r *http.Request) {
	agentID, ok := chatAgentID(w, r)
	if !ok {
		return
	}
	var req model.ConfirmPostRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "session_id is required", "")
		return
	}

	resp, err := h.chat.ConfirmPost(r.Context(), agentID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChatCancel handles POST /chat/{agent_id}/cancel.
func (h *Handlers) HandleChatCancel(w http.ResponseWriter, r *http.Request) {
	agentID, ok := chatAgentID(w, r)
	if !ok {
		return
	}
	var req model.CancelPostRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "session_id is required", "")
		return
	}

	resp, err := h.chat.CancelPost(r.Context(), agentID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChatHistory handles GET /chat/{agent_id}/history?session_id=.
func (h *Handlers) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	agentID, ok := chatAgentID(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "query parameter session_id is required", "")
		return
	}

	resp, err := h.chat.History(r.Context(), agentID, sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChatClear handles DELETE /chat/{agent_id}/history?session_id=.
// Clearing an unknown session is a no-op.
func (h *Handlers) HandleChatClear(w http.ResponseWriter, r *http.Request) {
	agentID, ok := chatAgentID(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "query parameter session_id is required", "")
		return
	}

	h.chat.ClearSession(agentID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}
