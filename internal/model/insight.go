// Package model defines the core domain types shared across storage,
// services, and the HTTP API.
package model

import (
	"fmt"
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

	// PhaseSummary and PhaseIdea are used by chat-staged posts whose
	// content_type is not "insight".
	PhaseSummary Phase = "Summary"
	PhaseIdea    Phase = "Idea"
)

// ValidPhase reports whether p is a recognized phase value.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseSetup, PhaseImplementation, PhaseOptimization, PhaseDebug,
		PhaseOther, PhaseSummary, PhaseIdea:
		return true
	}
	return false
}

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

// Insight is a persisted problem/solution record. Immutable once committed,
// except for Metadata.VerificationCount.
type Insight struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Phase     Phase           `json:"phase"`
	Content   InsightContent  `json:"content"`
	Metadata  InsightMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// ContentType distinguishes what kind of content a chat-staged post carries.
type ContentType string

// Recognized pending-post content types.
const (
	ContentTypeInsight ContentType = "insight"
	ContentTypeSummary ContentType = "summary"
	ContentTypeIdea    ContentType = "idea"
)

// ValidContentType reports whether ct is a recognized content type.
func ValidContentType(ct ContentType) bool {
	return ct == ContentTypeInsight || ct == ContentTypeSummary || ct == ContentTypeIdea
}

// PendingPost is structured content staged during a conversation, awaiting
// explicit confirmation. It exists only in session state; nothing is
// persisted until the user confirms.
type PendingPost struct {
	ContentType ContentType `json:"content_type"`
	Topic       string      `json:"topic"`
	Phase       Phase       `json:"phase"`
	Problem     string      `json:"problem"`
	Solution    string      `json:"solution"`
	SourceRef   string      `json:"source_ref,omitempty"`
	Tags        []string    `json:"tags"`
}

// Equal reports whether two pending posts carry the same content. Used to
// detect stale confirmations: a client must confirm exactly what is staged.
func (p PendingPost) Equal(other PendingPost) bool {
	if p.ContentType != other.ContentType ||
		p.Topic != other.Topic ||
		p.Phase != other.Phase ||
		p.Problem != other.Problem ||
		p.Solution != other.Solution ||
		p.SourceRef != other.SourceRef ||
		len(p.Tags) != len(other.Tags) {
		return false
	}
	for i := range p.Tags {
		if p.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return true
}

// BlockerItem is a derived (never stored) ranking entry: a topic with high
// search demand relative to verified answers.
type BlockerItem struct {
	Topic                string  `json:"topic"`
	QueryCount           int     `json:"query_count"`
	VerifiedInsightCount int     `json:"verified_insight_count"`
	BlockerScore         float64 `json:"blocker_score"`
}

// Field length limits for insight fields. These bound what flows into the
// embedding pipeline and Postgres TEXT columns.
const (
	MaxTopicLen    = 255
	MaxProblemLen  = 32 * 1024
	MaxSolutionLen = 64 * 1024
	MaxTagLen      = 80
	MaxTags        = 16
)

// ValidateInsightFields checks required fields and per-field length limits
// on the content that flows into the scope guard and storage.
func ValidateInsightFields(topic string, phase Phase, problem, solution string, tags []string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrValidation)
	}
	if len(topic) > MaxTopicLen {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrValidation, MaxTopicLen)
	}
	if !ValidPhase(phase) {
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, phase)
	}
	if problem == "" || solution == "" {
		return fmt.Errorf("%w: problem and solution are required", ErrValidation)
	}
	if len(problem) > MaxProblemLen {
		return fmt.Errorf("%w: problem exceeds %d bytes", ErrValidation, MaxProblemLen)
	}
	if len(solution) > MaxSolutionLen {
		return fmt.Errorf("%w: solution exceeds %d bytes", ErrValidation, MaxSolutionLen)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("%w: at most %d tags allowed", ErrValidation, MaxTags)
	}
	for i, tag := range tags {
		if tag == "" || len(tag) > MaxTagLen {
			return fmt.Errorf("%w: tags[%d] must be 1-%d characters", ErrValidation, i, MaxTagLen)
		}
	}
	return nil
}

// Validate checks a pending post before it is staged or committed.
func (p PendingPost) Validate() error {
	if !ValidContentType(p.ContentType) {
		return fmt.Errorf("%w: unknown content_type %q", ErrValidation, p.ContentType)
	}
	return ValidateInsightFields(p.Topic, p.Phase, p.Problem, p.Solution, p.Tags)
}
