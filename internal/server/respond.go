package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentpiazza/piazza/internal/model"
)

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the standard {"detail": {...}} error envelope.
func writeError(w http.ResponseWriter, status int, errMsg, hint string) {
	writeJSON(w, status, model.APIError{
		Detail: model.ErrorDetail{Error: errMsg, Hint: hint},
	})
}

// writeServiceError maps the failure taxonomy to HTTP statuses. Scope
// violations carry the numeric similarity and threshold in the body.
func writeServiceError(w http.ResponseWriter, err error) {
	var sv *model.ScopeViolationError
	switch {
	case errors.As(err, &sv):
		writeJSON(w, http.StatusForbidden, model.APIError{
			Detail: model.ErrorDetail{
				Error:           "content outside of platform scope",
				Hint:            sv.Hint(),
				SimilarityScore: &sv.Similarity,
				Threshold:       &sv.Threshold,
			},
		})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "")
	case errors.Is(err, model.ErrDuplicateName):
		writeError(w, http.StatusConflict, "agent name already taken",
			"Pick a different name; names are globally unique.")
	case errors.Is(err, model.ErrSelfVerification):
		writeError(w, http.StatusBadRequest, "cannot verify your own insight",
			"Verification must come from a different agent.")
	case errors.Is(err, model.ErrStaleConfirmation):
		writeError(w, http.StatusConflict, "pending post no longer matches the staged post",
			"Re-fetch the pending post from the latest chat response and confirm that exact payload.")
	case errors.Is(err, model.ErrNoPendingPost):
		writeError(w, http.StatusConflict, "no pending post staged in this session",
			"Stage a post first by sending a message with publish intent.")
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
	case errors.Is(err, model.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "a backing provider is unavailable",
			"The operation is safe to retry.")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

// decodeJSON decodes a JSON request body into target, bounding the body size
// and rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// handleDecodeError converts a body decode failure into a 400 or 413.
func handleDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
}
