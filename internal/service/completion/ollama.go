package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentpiazza/piazza/internal/model"
)

// postKeywords trigger publish-intent detection in the latest user message.
var postKeywords = []string{
	"post", "share", "submit", "publish", "add insight",
	"log this", "save this", "record this", "add this",
}

// extractPrompt instructs the model to return a single JSON object with the
// pending-post fields, or {"error": "cannot extract"} when the conversation
// does not contain enough to extract.
const extractPrompt = `The user wants to post content to a research platform. Read the conversation and extract the content.
Determine the content_type based on what the user is sharing:
- "insight": a problem/solution pair from hands-on research
- "summary": a summary or recap of a topic, paper, discussion, or session
- "idea": a new idea, proposal, or hypothesis the user wants to share

Return ONLY a single valid JSON object — no prose, no markdown fences — with exactly these keys:
{
  "content_type": "insight or summary or idea",
  "topic": "short topic name",
  "phase": "for insight use Setup/Implementation/Optimization/Debug/Other; for summary use Summary; for idea use Idea",
  "problem": "for insight: the challenge; for summary: what is being summarized; for idea: the idea title or proposal",
  "solution": "for insight: what solved it; for summary: the full summary body; for idea: details and reasoning",
  "source_ref": "optional URL or citation, or empty string",
  "tags": ["tag1", "tag2"]
}
If you cannot extract clear content from the conversation, return:
{"error": "cannot extract"}`

// OllamaProvider implements Provider against a local Ollama server's
// /api/chat endpoint.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates a completion provider backed by Ollama.
// The timeout bounds a single chat call; generation on CPU can be slow.
func NewOllamaProvider(baseURL, chatModel string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      chatModel,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete produces a reply and, when the latest user message expresses
// publish intent, an extracted pending-post candidate.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (Result, error) {
	if hasPostIntent(lastUserMessage(req.Messages)) {
		post, err := p.extractPost(ctx, req.Messages)
		if err != nil {
			return Result{}, err
		}
		// Post may be nil: intent was clear but the fields were not.
		return Result{Intent: IntentPost, Post: post}, nil
	}

	reply, err := p.chat(ctx, req.SystemPrompt, req.Messages)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: reply, Intent: IntentNone}, nil
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func hasPostIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range postKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

// chat sends the conversation to Ollama with the system prompt injected as
// the first message and returns the assistant's reply.
func (p *OllamaProvider) chat(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	chatMessages := make([]ollamaChatMessage, 0, len(messages)+1)
	chatMessages = append(chatMessages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	for _, m := range messages {
		chatMessages = append(chatMessages, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}

	reqBody, err := json.Marshal(ollamaChatRequest{
		Model:    p.model,
		Messages: chatMessages,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("completion: status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("completion: decode response: %w", err)
	}
	return result.Message.Content, nil
}

var (
	fenceRe  = regexp.MustCompile("```[a-z]*\n?")
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

type extractedFields struct {
	ContentType string   `json:"content_type"`
	Topic       string   `json:"topic"`
	Phase       string   `json:"phase"`
	Problem     string   `json:"problem"`
	Solution    string   `json:"solution"`
	SourceRef   string   `json:"source_ref"`
	Tags        []string `json:"tags"`
	Error       string   `json:"error"`
}

// extractPost asks the model for structured fields and parses them into a
// PendingPost. Returns (nil, nil) when the model could not extract content;
// a non-nil error means the provider itself failed.
func (p *OllamaProvider) extractPost(ctx context.Context, messages []Message) (*model.PendingPost, error) {
	raw, err := p.chat(ctx, extractPrompt, messages)
	if err != nil {
		return nil, err
	}
	return parseExtractedPost(raw), nil
}

// parseExtractedPost tolerates markdown fences and surrounding prose around
// the JSON object the model was asked to return.
func parseExtractedPost(raw string) *model.PendingPost {
	cleaned := strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))
	cleaned = strings.TrimSpace(strings.TrimRight(cleaned, "`"))

	match := objectRe.FindString(cleaned)
	if match == "" {
		return nil
	}

	var fields extractedFields
	if err := json.Unmarshal([]byte(match), &fields); err != nil {
		return nil
	}
	if fields.Error != "" {
		return nil
	}

	contentType := model.ContentType(fields.ContentType)
	if !model.ValidContentType(contentType) {
		contentType = model.ContentTypeInsight
	}
	phase := model.Phase(fields.Phase)
	if !model.ValidPhase(phase) {
		phase = model.PhaseOther
	}
	tags := fields.Tags
	if tags == nil {
		tags = []string{}
	}

	return &model.PendingPost{
		ContentType: contentType,
		Topic:       fields.Topic,
		Phase:       phase,
		Problem:     fields.Problem,
		Solution:    fields.Solution,
		SourceRef:   fields.SourceRef,
		Tags:        tags,
	}
}
