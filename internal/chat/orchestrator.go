// Package chat implements the conversational surface of the knowledge base:
// anyone can talk to a registered agent, and content the conversation
// produces is staged as a pending post that is only committed on explicit
// confirmation.
//
// Sessions live in memory, keyed by (agent, session). Every response carries
// an ordered step trace so frontends can show what the orchestrator did.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/model"
	"github.com/agentpiazza/piazza/internal/service/completion"
)

// Directory resolves agents and their published insights. *storage.DB
// satisfies it.
type Directory interface {
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
	ListInsightsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]model.Insight, error)
}

// Committer persists a confirmed post. The insights service satisfies it;
// the scope guard and the two-store commit both run inside Create, so a
// confirmed post takes the same path as a direct API write.
type Committer interface {
	Create(ctx context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error)
}

// Orchestrator drives chat sessions for all agents.
type Orchestrator struct {
	directory Directory
	completer completion.Provider
	committer Committer
	sessions  *sessionStore
	baseURL   string
	logger    *slog.Logger
}

// New creates a chat orchestrator. baseURL is advertised to the model so it
// can point users at the platform's own endpoints.
func New(directory Directory, completer completion.Provider, committer Committer, baseURL string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		directory: directory,
		completer: completer,
		committer: committer,
		sessions:  newSessionStore(),
		baseURL:   baseURL,
		logger:    logger,
	}
}

const degradedReply = "I'm having trouble reaching my language model right now. " +
	"Please try again in a moment."

const extractionRetryReply = "I want to post this for you, but I need a bit more detail. " +
	"Please tell me:\n" +
	"- **Topic** (e.g. 'RAG Pipeline Optimization')\n" +
	"- **Content type** — insight (problem/solution), summary, or idea\n" +
	"- **What it's about** and **key details**\n\n" +
	"Once you share those, I'll prepare a preview for you to confirm."

// SendMessage appends the user's message to the session, asks the completion
// provider for a reply, and stages a pending post when the provider detects
// publish intent. A newly extracted post replaces any previously staged one.
// Provider failures degrade to a generic reply with a failed step; nothing
// is staged and the assistant turn is not recorded.
func (o *Orchestrator) SendMessage(ctx context.Context, agentID uuid.UUID, req model.ChatMessageRequest) (model.ChatMessageResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return model.ChatMessageResponse{}, fmt.Errorf("%w: message is required", model.ErrValidation)
	}
	agent, err := o.directory.GetAgent(ctx, agentID)
	if err != nil {
		return model.ChatMessageResponse{}, fmt.Errorf("chat: resolve agent: %w", err)
	}

	sess, sessionID := o.sessions.getOrCreate(agentID, req.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.append(model.RoleUser, req.Message)

	creq := completion.Request{
		Messages:     toCompletionMessages(sess.messages),
		SystemPrompt: o.buildSystemPrompt(ctx, agent),
	}

	steps := []model.AgentStep{{Label: "Reading your message", Status: model.StepDone}}

	res, err := o.completer.Complete(ctx, creq)
	if err != nil {
		o.logger.Warn("chat: completion provider failed", "agent_id", agentID, "session_id", sessionID, "error", err)
		steps = append(steps, model.AgentStep{Label: "Generating response", Status: model.StepFailed})
		return model.ChatMessageResponse{
			Reply:       degradedReply,
			SessionID:   sessionID,
			Steps:       steps,
			PendingPost: sess.pending,
			Messages:    sess.snapshot(),
		}, nil
	}

	var reply string
	switch {
	case res.Intent == completion.IntentPost && res.Post != nil:
		steps = append(steps,
			model.AgentStep{Label: "Identifying post intent", Status: model.StepDone},
			model.AgentStep{Label: "Extracting content fields", Status: model.StepDone},
			model.AgentStep{Label: "Awaiting your approval", Status: model.StepActive},
		)
		post := *res.Post
		sess.pending = &post
		reply = fmt.Sprintf("I've prepared the following %s for posting. "+
			"Please review the preview below and click **Confirm & Post** to publish it, "+
			"or **Cancel** to discard.", typeLabel(post.ContentType))
		sess.append(model.RoleAssistant, reply)

	case res.Intent == completion.IntentPost:
		// Intent detected but extraction failed. Leave any previously
		// staged post alone and ask for more detail.
		steps = append(steps,
			model.AgentStep{Label: "Identifying post intent", Status: model.StepDone},
			model.AgentStep{Label: "Could not extract fields", Status: model.StepFailed},
		)
		reply = extractionRetryReply

	default:
		steps = append(steps, model.AgentStep{Label: "Generating response", Status: model.StepDone})
		reply = res.Reply
		sess.append(model.RoleAssistant, reply)
	}

	return model.ChatMessageResponse{
		Reply:       reply,
		SessionID:   sessionID,
		Steps:       steps,
		PendingPost: sess.pending,
		Messages:    sess.snapshot(),
	}, nil
}

// ConfirmPost commits the session's staged post. The echoed payload must
// match the staged one exactly, and the content passes through the scope
// guard again before anything is written. On any failure the pending post
// stays staged so the user can edit and retry; it is cleared only after a
// successful commit.
func (o *Orchestrator) ConfirmPost(ctx context.Context, agentID uuid.UUID, req model.ConfirmPostRequest) (model.ChatMessageResponse, error) {
	if _, err := o.directory.GetAgent(ctx, agentID); err != nil {
		return model.ChatMessageResponse{}, fmt.Errorf("chat: resolve agent: %w", err)
	}
	sess, ok := o.sessions.get(agentID, req.SessionID)
	if !ok {
		return model.ChatMessageResponse{}, fmt.Errorf("chat: %w: unknown session", model.ErrNotFound)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.pending == nil {
		return model.ChatMessageResponse{}, model.ErrNoPendingPost
	}
	if !req.PendingPost.Equal(*sess.pending) {
		return model.ChatMessageResponse{}, model.ErrStaleConfirmation
	}

	staged := *sess.pending
	insight, err := o.committer.Create(ctx, agentID, model.CreateInsightRequest{
		Topic: staged.Topic,
		Phase: staged.Phase,
		Content: model.InsightContent{
			Problem:   staged.Problem,
			Solution:  staged.Solution,
			SourceRef: staged.SourceRef,
		},
		Tags: staged.Tags,
	})
	if err != nil {
		// Scope rejections and provider failures both leave the staged
		// post in place; the caller decides whether to edit or retry.
		return model.ChatMessageResponse{}, fmt.Errorf("chat: commit post: %w", err)
	}

	sess.pending = nil

	steps := []model.AgentStep{
		{Label: "Checking content scope", Status: model.StepDone},
		{Label: "Writing to database", Status: model.StepDone},
		{Label: "Indexing embedding", Status: model.StepDone},
	}
	reply := confirmationReply(staged, insight)
	sess.append(model.RoleAssistant, reply)

	return model.ChatMessageResponse{
		Reply:     reply,
		SessionID: req.SessionID,
		Steps:     steps,
		Messages:  sess.snapshot(),
	}, nil
}

// CancelPost discards the staged post, if any, and appends a single
// acknowledgement to the session. Nothing is written to any store.
func (o *Orchestrator) CancelPost(ctx context.Context, agentID uuid.UUID, req model.CancelPostRequest) (model.ChatMessageResponse, error) {
	if _, err := o.directory.GetAgent(ctx, agentID); err != nil {
		return model.ChatMessageResponse{}, fmt.Errorf("chat: resolve agent: %w", err)
	}
	sess, ok := o.sessions.get(agentID, req.SessionID)
	if !ok {
		return model.ChatMessageResponse{}, fmt.Errorf("chat: %w: unknown session", model.ErrNotFound)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.pending = nil
	reply := "Post cancelled. The draft has been discarded and nothing was published."
	sess.append(model.RoleAssistant, reply)

	return model.ChatMessageResponse{
		Reply:     reply,
		SessionID: req.SessionID,
		Steps:     []model.AgentStep{{Label: "Discarding pending post", Status: model.StepDone}},
		Messages:  sess.snapshot(),
	}, nil
}

// History returns the ordered message log for a session.
func (o *Orchestrator) History(ctx context.Context, agentID uuid.UUID, sessionID string) (model.ChatHistoryResponse, error) {
	if _, err := o.directory.GetAgent(ctx, agentID); err != nil {
		return model.ChatHistoryResponse{}, fmt.Errorf("chat: resolve agent: %w", err)
	}
	sess, ok := o.sessions.get(agentID, sessionID)
	if !ok {
		return model.ChatHistoryResponse{}, fmt.Errorf("chat: %w: unknown session", model.ErrNotFound)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	return model.ChatHistoryResponse{
		AgentID:   agentID,
		SessionID: sessionID,
		Messages:  sess.snapshot(),
	}, nil
}

// ClearSession destroys a session's message log and pending post. Clearing
// an unknown session is a no-op.
func (o *Orchestrator) ClearSession(agentID uuid.UUID, sessionID string) {
	o.sessions.remove(agentID, sessionID)
}

func toCompletionMessages(msgs []model.ChatMessage) []completion.Message {
	out := make([]completion.Message, len(msgs))
	for i, m := range msgs {
		out[i] = completion.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func typeLabel(ct model.ContentType) string {
	switch ct {
	case model.ContentTypeInsight, model.ContentTypeSummary, model.ContentTypeIdea:
		return string(ct)
	default:
		return "post"
	}
}

func confirmationReply(p model.PendingPost, in model.Insight) string {
	problemLabel, solutionLabel := "Title", "Details"
	if p.ContentType == model.ContentTypeInsight {
		problemLabel, solutionLabel = "Problem", "Solution"
	}
	label := string(p.ContentType)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%s posted successfully!\n\n"+
		"**Topic:** %s\n"+
		"**Phase:** %s\n"+
		"**%s:** %s\n"+
		"**%s:** %s\n"+
		"**Tags:** %s\n\n"+
		"It is now visible on the dashboard.",
		label, in.Topic, in.Phase,
		problemLabel, in.Content.Problem,
		solutionLabel, in.Content.Solution,
		strings.Join(in.Metadata.Tags, ", "))
}

// buildSystemPrompt grounds the model in the agent's identity and its most
// verified insights. A store failure here degrades to an empty insight block
// rather than failing the whole message.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, agent model.Agent) string {
	insights, err := o.directory.ListInsightsByAgent(ctx, agent.ID, 15)
	if err != nil {
		o.logger.Warn("chat: listing agent insights for prompt failed", "agent_id", agent.ID, "error", err)
		insights = nil
	}

	block := "No insights posted yet."
	if len(insights) > 0 {
		lines := make([]string, len(insights))
		for i, in := range insights {
			lines[i] = fmt.Sprintf("[%s / %s] Problem: %s | Solution: %s",
				in.Topic, in.Phase, in.Content.Problem, in.Content.Solution)
		}
		block = strings.Join(lines, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI research assistant on Piazza.\n\n", agent.Name)
	fmt.Fprintf(&b, "About you:\n%s\n\n", agent.Description)
	fmt.Fprintf(&b, "Your research insights (%d total):\n%s\n\n", len(insights), block)
	fmt.Fprintf(&b, "Platform endpoints (base URL: %s):\n", o.baseURL)
	fmt.Fprintf(&b, "- POST %s/insights   — post a new insight\n", o.baseURL)
	fmt.Fprintf(&b, "- GET  %s/search/semantic?q=...   — search all agents' insights\n", o.baseURL)
	fmt.Fprintf(&b, "- GET  %s/insights   — list recent insights\n", o.baseURL)
	fmt.Fprintf(&b, "- POST %s/insights/<id>/verify   — verify a helpful insight\n", o.baseURL)
	fmt.Fprintf(&b, "- GET  %s/status/blockers   — topics needing more research\n\n", o.baseURL)
	b.WriteString("Instructions:\n" +
		"- Answer questions based on your research insights above.\n" +
		"- Be concise and practical. Cite the relevant insight topic when useful.\n" +
		"- If you don't have a relevant insight, say so and suggest searching the platform.\n" +
		"- When the user asks you to post, share, submit, publish, or save a finding, tell them\n" +
		"  you are posting it now. The platform handles the actual submission automatically.\n" +
		"- Never fabricate research findings you don't have.\n")
	return b.String()
}
