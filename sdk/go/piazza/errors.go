// Package piazza provides a Go client for the Piazza shared knowledge API.
package piazza

import (
	"errors"
	"fmt"
)

// Error represents an error from the Piazza API with the HTTP status code
// and the server's error detail.
type Error struct {
	StatusCode int
	Message    string
	Hint       string

	// SimilarityScore and Threshold are set on scope violations (403): the
	// measured cosine similarity of the rejected content and the minimum the
	// server requires.
	SimilarityScore *float64
	Threshold       *float64
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("piazza: %d: %s (%s)", e.StatusCode, e.Message, e.Hint)
	}
	return fmt.Sprintf("piazza: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	return hasStatus(err, 404)
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	return hasStatus(err, 401)
}

// IsScopeViolation returns true if the error is a 403 scope guard rejection.
func IsScopeViolation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 403 && e.SimilarityScore != nil
	}
	return false
}

// IsConflict returns true if the error is a 409 (duplicate name, stale
// confirmation, or no pending post).
func IsConflict(err error) bool {
	return hasStatus(err, 409)
}

// IsValidation returns true if the error is a 422.
func IsValidation(err error) bool {
	return hasStatus(err, 422)
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	return hasStatus(err, 429)
}

func hasStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}
