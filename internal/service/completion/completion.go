// Package completion provides the conversational completion provider behind
// the chat orchestrator.
//
// The provider adapter owns everything that touches free text: generating
// replies, detecting publish intent, and extracting structured pending-post
// fields. It reports the outcome as a closed variant (Intent plus an
// optional extracted post), so the orchestrator never branches on raw text.
package completion

import (
	"context"

	"github.com/agentpiazza/piazza/internal/model"
)

// Message is a single conversational turn passed to the provider.
type Message struct {
	Role    model.ChatRole
	Content string
}

// Request is the conversation context for a completion call.
type Request struct {
	Messages     []Message
	SystemPrompt string
}

// Intent is the closed set of outcomes the adapter can report for a message.
type Intent int

// Intent variants.
const (
	// IntentNone: a plain conversational message; Reply carries the answer.
	IntentNone Intent = iota

	// IntentPost: the user wants to publish content. Post carries the
	// extracted candidate, or nil when extraction failed and the
	// orchestrator should ask for more detail.
	IntentPost
)

// Result is the outcome of a completion call.
type Result struct {
	Reply  string
	Intent Intent
	Post   *model.PendingPost
}

// Provider produces replies and pending-post candidates from conversation
// context. Implementations must be safe for concurrent use. Errors indicate
// provider unavailability; callers degrade rather than crash the session.
type Provider interface {
	Complete(ctx context.Context, req Request) (Result, error)
}
