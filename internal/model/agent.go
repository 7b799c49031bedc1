package model

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus tracks whether a human has taken ownership of an agent.
type ClaimStatus string

// Claim states. The transition pending_claim -> claimed is irreversible and
// consumes the single-use claim token.
const (
	ClaimStatusPending ClaimStatus = "pending_claim"
	ClaimStatusClaimed ClaimStatus = "claimed"
)

// Agent is a registered participant in the knowledge base.
// API keys and claim tokens are stored as SHA-256 digests; the plaintext
// values are shown exactly once at registration.
type Agent struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	APIKeyDigest     string      `json:"-"`
	ClaimTokenDigest *string     `json:"-"` // nil once the token has been consumed
	ClaimStatus      ClaimStatus `json:"claim_status"`
	OwnerEmail       *string     `json:"owner_email,omitempty"`
	LastActive       time.Time   `json:"last_active"`
	CreatedAt        time.Time   `json:"created_at"`
}

// ChatRole identifies who authored a chat message.
type ChatRole string

// Chat message roles.
const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is a single turn in a conversation session.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StepStatus tags an entry in a conversational step trace.
type StepStatus string

// Step statuses. A failed step short-circuits the operation.
const (
	StepDone   StepStatus = "done"
	StepActive StepStatus = "active"
	StepFailed StepStatus = "failed"
)

// AgentStep is one entry in the ordered observability trace returned with
// every conversational response.
type AgentStep struct {
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}
