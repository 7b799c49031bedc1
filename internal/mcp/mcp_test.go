package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpiazza/piazza/internal/ctxutil"
	"github.com/agentpiazza/piazza/internal/model"
)

type fakeInsights struct {
	created   []model.CreateInsightRequest
	createErr error
	verified  []uuid.UUID
	results   []model.SemanticSearchResult
}

func (f *fakeInsights) Create(_ context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error) {
	if f.createErr != nil {
		return model.Insight{}, f.createErr
	}
	f.created = append(f.created, req)
	return model.Insight{
		ID: uuid.New(), Topic: req.Topic, Phase: req.Phase, Content: req.Content,
		Metadata: model.InsightMetadata{AgentID: agentID, Tags: req.Tags},
	}, nil
}

func (f *fakeInsights) Verify(_ context.Context, _, insightID uuid.UUID) (int, error) {
	f.verified = append(f.verified, insightID)
	return 1, nil
}

func (f *fakeInsights) Search(_ context.Context, _ string, topK int) ([]model.SemanticSearchResult, error) {
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type fakeBlockers struct{ items []model.BlockerItem }

func (f *fakeBlockers) Rank(_ context.Context, limit int) ([]model.BlockerItem, error) {
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func toolRequest(args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func agentContext() context.Context {
	return ctxutil.WithAgent(context.Background(), &model.Agent{
		ID:   uuid.New(),
		Name: "scout",
	})
}

func newTestServer(ins *fakeInsights, blk *fakeBlockers) *Server {
	return New(ins, blk, slog.New(slog.DiscardHandler))
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSearchTool(t *testing.T) {
	ins := &fakeInsights{results: []model.SemanticSearchResult{
		{Insight: model.Insight{Topic: "tool use"}, Score: 0.91},
	}}
	s := newTestServer(ins, &fakeBlockers{})

	res, err := s.handleSearch(context.Background(), toolRequest(map[string]any{"query": "how to call tools"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var resp model.SemanticSearchResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "tool use", resp.Results[0].Topic)

	res, err = s.handleSearch(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "query is required")
}

func TestPostToolRequiresAuth(t *testing.T) {
	s := newTestServer(&fakeInsights{}, &fakeBlockers{})

	res, err := s.handlePost(context.Background(), toolRequest(map[string]any{
		"topic": "x", "phase": "Debug", "problem": "p", "solution": "s",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not authenticated")
}

func TestPostToolCreatesInsight(t *testing.T) {
	ins := &fakeInsights{}
	s := newTestServer(ins, &fakeBlockers{})

	res, err := s.handlePost(agentContext(), toolRequest(map[string]any{
		"topic":    "RAG Pipelines",
		"phase":    "Debug",
		"problem":  "retriever returns noise",
		"solution": "rerank with a cross-encoder",
		"tags":     "rag, retrieval",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))

	require.Len(t, ins.created, 1)
	assert.Equal(t, model.PhaseDebug, ins.created[0].Phase)
	assert.Equal(t, []string{"rag", "retrieval"}, ins.created[0].Tags)
}

func TestPostToolScopeRejection(t *testing.T) {
	ins := &fakeInsights{createErr: &model.ScopeViolationError{Similarity: 0.12, Threshold: 0.3}}
	s := newTestServer(ins, &fakeBlockers{})

	res, err := s.handlePost(agentContext(), toolRequest(map[string]any{
		"topic": "Sourdough", "phase": "Other", "problem": "p", "solution": "s",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "scope guard")
	assert.Contains(t, resultText(t, res), "0.12")
}

func TestVerifyTool(t *testing.T) {
	ins := &fakeInsights{}
	s := newTestServer(ins, &fakeBlockers{})
	id := uuid.New()

	res, err := s.handleVerify(agentContext(), toolRequest(map[string]any{"insight_id": id.String()}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []uuid.UUID{id}, ins.verified)

	res, err = s.handleVerify(agentContext(), toolRequest(map[string]any{"insight_id": "junk"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBlockersTool(t *testing.T) {
	blk := &fakeBlockers{items: []model.BlockerItem{
		{Topic: "prompt engineering", QueryCount: 12, BlockerScore: 12},
	}}
	s := newTestServer(&fakeInsights{}, blk)

	res, err := s.handleBlockers(context.Background(), toolRequest(map[string]any{"limit": 5}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var resp model.BlockersResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	require.Len(t, resp.Blockers, 1)
	assert.Equal(t, "prompt engineering", resp.Blockers[0].Topic)
}
