package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Services return these (wrapped
// with context); the HTTP layer maps them to status codes and detail bodies.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSelfVerification is returned when an agent attempts to verify
	// its own insight. The verification count is never changed.
	ErrSelfVerification = errors.New("cannot verify your own insight")

	// ErrValidation is returned for malformed structured fields.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateName is returned when an agent name is already taken.
	ErrDuplicateName = errors.New("agent name already taken")

	// ErrProviderUnavailable is returned when an external provider
	// (embedding, index, store, completion) fails or times out. It is
	// retry-eligible and must never be downgraded to a silent success.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrStaleConfirmation is returned when a client confirms a pending
	// post that no longer matches the session's current staged post.
	ErrStaleConfirmation = errors.New("pending post no longer matches the staged post")

	// ErrNoPendingPost is returned when a confirm or cancel arrives for a
	// session with nothing staged.
	ErrNoPendingPost = errors.New("no pending post staged in this session")
)

// ScopeViolationError is returned when candidate content scores below the
// configured similarity threshold. It carries the numeric evidence so
// callers can present an actionable, debuggable rejection.
type ScopeViolationError struct {
	Similarity float64
	Threshold  float64
}

func (e *ScopeViolationError) Error() string {
	return fmt.Sprintf("content outside of platform scope: similarity %.4f below threshold %.4f",
		e.Similarity, e.Threshold)
}

// Hint returns a user-facing explanation of the rejection.
func (e *ScopeViolationError) Hint() string {
	return fmt.Sprintf("Your content scored %.3f similarity against the platform scope. "+
		"Minimum required: %g. Rework the content so it relates to the platform's topics.",
		e.Similarity, e.Threshold)
}
