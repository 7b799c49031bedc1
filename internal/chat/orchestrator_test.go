package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpiazza/piazza/internal/model"
	"github.com/agentpiazza/piazza/internal/service/completion"
)

type fakeDirectory struct {
	agents   map[uuid.UUID]model.Agent
	insights []model.Insight
}

func (f *fakeDirectory) GetAgent(_ context.Context, id uuid.UUID) (model.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return model.Agent{}, model.ErrNotFound
	}
	return a, nil
}

func (f *fakeDirectory) ListInsightsByAgent(context.Context, uuid.UUID, int) ([]model.Insight, error) {
	return f.insights, nil
}

// scriptedProvider returns queued results in order, then repeats the last.
type scriptedProvider struct {
	mu      sync.Mutex
	results []completion.Result
	errs    []error
	calls   int
}

func (p *scriptedProvider) Complete(_ context.Context, _ completion.Request) (completion.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.results[i], err
}

type fakeCommitter struct {
	mu        sync.Mutex
	committed []model.CreateInsightRequest
	err       error
}

func (f *fakeCommitter) Create(_ context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Insight{}, f.err
	}
	f.committed = append(f.committed, req)
	return model.Insight{
		ID:      uuid.New(),
		Topic:   req.Topic,
		Phase:   req.Phase,
		Content: req.Content,
		Metadata: model.InsightMetadata{
			AgentID: agentID,
			Tags:    req.Tags,
		},
	}, nil
}

func testAgent() model.Agent {
	return model.Agent{
		ID:          uuid.New(),
		Name:        "scout",
		Description: "explores retrieval pipelines",
	}
}

func newOrchestrator(agent model.Agent, provider completion.Provider, committer Committer) *Orchestrator {
	dir := &fakeDirectory{agents: map[uuid.UUID]model.Agent{agent.ID: agent}}
	return New(dir, provider, committer, "http://localhost:8080", slog.New(slog.DiscardHandler))
}

func samplePost() model.PendingPost {
	return model.PendingPost{
		ContentType: model.ContentTypeInsight,
		Topic:       "RAG Pipelines",
		Phase:       model.PhaseDebug,
		Problem:     "retriever returns noise",
		Solution:    "rerank with a cross-encoder",
		Tags:        []string{"rag"},
	}
}

func TestSendMessagePlainReply(t *testing.T) {
	agent := testAgent()
	provider := &scriptedProvider{results: []completion.Result{{Reply: "try a reranker"}}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	resp, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
		Message: "how do I improve recall?",
	})
	require.NoError(t, err)
	assert.Equal(t, "try a reranker", resp.Reply)
	assert.NotEmpty(t, resp.SessionID, "a session id is minted when omitted")
	assert.Nil(t, resp.PendingPost)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, model.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, resp.Messages[1].Role)
	for _, st := range resp.Steps {
		assert.NotEqual(t, model.StepFailed, st.Status)
	}
}

func TestSendMessageUnknownAgent(t *testing.T) {
	provider := &scriptedProvider{results: []completion.Result{{Reply: "hi"}}}
	o := newOrchestrator(testAgent(), provider, &fakeCommitter{})

	_, err := o.SendMessage(context.Background(), uuid.New(), model.ChatMessageRequest{Message: "hi"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSendMessageEmptyMessage(t *testing.T) {
	agent := testAgent()
	o := newOrchestrator(agent, &scriptedProvider{results: []completion.Result{{}}}, &fakeCommitter{})

	_, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "   "})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSendMessageStagesPendingPost(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
	}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	resp, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
		Message: "please post this finding",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.PendingPost)
	assert.True(t, post.Equal(*resp.PendingPost))

	var active int
	for _, st := range resp.Steps {
		if st.Status == model.StepActive {
			active++
		}
	}
	assert.Equal(t, 1, active, "staging leaves exactly one awaiting-approval step")
}

func TestSendMessageRestagingReplaces(t *testing.T) {
	agent := testAgent()
	first := samplePost()
	second := samplePost()
	second.Topic = "Prompt Caching"
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &first},
		{Intent: completion.IntentPost, Post: &second},
	}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)
	r2, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
		Message: "actually post this instead", SessionID: r1.SessionID,
	})
	require.NoError(t, err)
	require.NotNil(t, r2.PendingPost)
	assert.Equal(t, "Prompt Caching", r2.PendingPost.Topic)
}

func TestSendMessageExtractionFailure(t *testing.T) {
	agent := testAgent()
	staged := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &staged},
		{Intent: completion.IntentPost, Post: nil},
	}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)

	r2, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
		Message: "post something", SessionID: r1.SessionID,
	})
	require.NoError(t, err)

	var failed bool
	for _, st := range r2.Steps {
		if st.Status == model.StepFailed {
			failed = true
		}
	}
	assert.True(t, failed)
	// The earlier staged post survives a failed extraction.
	require.NotNil(t, r2.PendingPost)
	assert.True(t, staged.Equal(*r2.PendingPost))
	// Only the user's turns were recorded; the retry prompt is not history.
	assert.Len(t, r2.Messages, 3)
}

func TestSendMessageProviderFailureDegrades(t *testing.T) {
	agent := testAgent()
	provider := &scriptedProvider{
		results: []completion.Result{{}},
		errs:    []error{errors.New("ollama down")},
	}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	resp, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "hello"})
	require.NoError(t, err, "provider failures degrade, they do not fail the session")
	assert.Equal(t, degradedReply, resp.Reply)
	assert.Nil(t, resp.PendingPost)
	require.Len(t, resp.Messages, 1, "only the user message is recorded")

	var failed bool
	for _, st := range resp.Steps {
		if st.Status == model.StepFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestConfirmPostCommitsAndClears(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
	}}
	committer := &fakeCommitter{}
	o := newOrchestrator(agent, provider, committer)

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)

	resp, err := o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: post,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.PendingPost)
	assert.Contains(t, resp.Reply, "posted successfully")

	require.Len(t, committer.committed, 1)
	assert.Equal(t, post.Topic, committer.committed[0].Topic)
	assert.Equal(t, post.Problem, committer.committed[0].Content.Problem)

	// Pending post is gone; confirming again reports nothing staged.
	_, err = o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: post,
	})
	assert.ErrorIs(t, err, model.ErrNoPendingPost)
}

func TestConfirmPostStaleEcho(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
	}}
	committer := &fakeCommitter{}
	o := newOrchestrator(agent, provider, committer)

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)

	tampered := post
	tampered.Solution = "something else entirely"
	_, err = o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: tampered,
	})
	assert.ErrorIs(t, err, model.ErrStaleConfirmation)
	assert.Empty(t, committer.committed)

	// The staged post is untouched and a matching confirm still works.
	resp, err := o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: post,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Reply, "posted successfully")
}

func TestConfirmPostCommitFailurePreservesPending(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
	}}
	committer := &fakeCommitter{err: &model.ScopeViolationError{Similarity: 0.1, Threshold: 0.3}}
	o := newOrchestrator(agent, provider, committer)

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)
	historyBefore := len(r1.Messages)

	_, err = o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: post,
	})
	var sv *model.ScopeViolationError
	require.ErrorAs(t, err, &sv)

	// Retry after the committer recovers: the staged post is still there.
	committer.err = nil
	resp, err := o.ConfirmPost(context.Background(), agent.ID, model.ConfirmPostRequest{
		SessionID:   r1.SessionID,
		PendingPost: post,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Messages, historyBefore+1, "the failed confirm left no trace in history")
}

func TestCancelPostClearsAndAcknowledges(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
		{Reply: "anything else?"},
	}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)

	resp, err := o.CancelPost(context.Background(), agent.ID, model.CancelPostRequest{SessionID: r1.SessionID})
	require.NoError(t, err)
	assert.Nil(t, resp.PendingPost)
	assert.Len(t, resp.Messages, len(r1.Messages)+1, "exactly one acknowledgement is appended")

	// A later message without publish intent sees no pending post.
	r2, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
		Message: "thanks", SessionID: r1.SessionID,
	})
	require.NoError(t, err)
	assert.Nil(t, r2.PendingPost)
}

func TestHistoryAndClearSession(t *testing.T) {
	agent := testAgent()
	provider := &scriptedProvider{results: []completion.Result{{Reply: "hello"}}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "hi"})
	require.NoError(t, err)

	hist, err := o.History(context.Background(), agent.ID, r1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, hist.AgentID)
	assert.Len(t, hist.Messages, 2)

	o.ClearSession(agent.ID, r1.SessionID)
	_, err = o.History(context.Background(), agent.ID, r1.SessionID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = o.History(context.Background(), agent.ID, "never-existed")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSessionsAreIsolated(t *testing.T) {
	agent := testAgent()
	post := samplePost()
	provider := &scriptedProvider{results: []completion.Result{
		{Intent: completion.IntentPost, Post: &post},
		{Reply: "plain answer"},
	}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r1, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "post this"})
	require.NoError(t, err)
	require.NotNil(t, r1.PendingPost)

	r2, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "hello"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.SessionID, r2.SessionID)
	assert.Nil(t, r2.PendingPost, "a fresh session never sees another session's staged post")
}

func TestConcurrentSendsSerialize(t *testing.T) {
	agent := testAgent()
	provider := &scriptedProvider{results: []completion.Result{{Reply: "ok"}}}
	o := newOrchestrator(agent, provider, &fakeCommitter{})

	r0, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{Message: "start"})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.SendMessage(context.Background(), agent.ID, model.ChatMessageRequest{
				Message:   fmt.Sprintf("msg %d", i),
				SessionID: r0.SessionID,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	hist, err := o.History(context.Background(), agent.ID, r0.SessionID)
	require.NoError(t, err)
	// 2 from the first exchange plus 2 per concurrent send.
	assert.Len(t, hist.Messages, 2+2*n)
}
