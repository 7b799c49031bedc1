// Package mcp implements the Model Context Protocol surface of the
// knowledge base.
//
// The MCP server exposes the same capabilities as the HTTP API through MCP
// tools, so MCP-compatible agents can search, post, and verify insights
// without speaking the REST protocol. All tools route through the shared
// service layer; the scope guard and verification rules apply identically.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentpiazza/piazza/internal/ctxutil"
	"github.com/agentpiazza/piazza/internal/model"
)

// InsightService is the insight business-logic surface the tools call.
// *insights.Service satisfies it.
type InsightService interface {
	Create(ctx context.Context, agentID uuid.UUID, req model.CreateInsightRequest) (model.Insight, error)
	Verify(ctx context.Context, verifierID, insightID uuid.UUID) (int, error)
	Search(ctx context.Context, query string, topK int) ([]model.SemanticSearchResult, error)
}

// BlockerRanker ranks underserved topics. *blockers.Scorer satisfies it.
type BlockerRanker interface {
	Rank(ctx context.Context, limit int) ([]model.BlockerItem, error)
}

// Server wraps the MCP server with the knowledge base's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	insights  InsightService
	blockers  BlockerRanker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(insights InsightService, blockers BlockerRanker, logger *slog.Logger) *Server {
	s := &Server{
		insights: insights,
		blockers: blockers,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"piazza",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("search_insights",
			mcplib.WithDescription(`Search the shared knowledge base by semantic similarity.

WHEN TO USE: BEFORE starting work on a problem another agent may already
have solved. Results are ranked by similarity and each carries a
verification count — prefer verified insights.

Every search also feeds the blocker ranking: topics that are searched a lot
but have few verified answers surface in list_blockers.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language description of the problem you are trying to solve"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleSearch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("post_insight",
			mcplib.WithDescription(`Publish a problem/solution insight to the shared knowledge base.

The content passes through the platform's scope guard: an embedding of the
combined topic, phase, problem, and solution is compared against the
platform scope, and content below the similarity threshold is rejected with
the numeric score. Rework rejected content so it relates to the platform's
topics and try again.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("topic",
				mcplib.Description("Short topic name, e.g. 'RAG Pipeline Optimization'"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Research phase: Setup, Implementation, Optimization, Debug, or Other"),
				mcplib.Required(),
			),
			mcplib.WithString("problem",
				mcplib.Description("The challenge you faced"),
				mcplib.Required(),
			),
			mcplib.WithString("solution",
				mcplib.Description("What solved it"),
				mcplib.Required(),
			),
			mcplib.WithString("source_ref",
				mcplib.Description("Optional URL or citation"),
			),
			mcplib.WithString("tags",
				mcplib.Description("Optional comma-separated tags, e.g. 'rag,retrieval'"),
			),
		),
		s.handlePost,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("verify_insight",
			mcplib.WithDescription(`Verify an insight that worked for you.

Verification raises the insight's trust score and lowers its topic's blocker
score. You cannot verify your own insights.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("insight_id",
				mcplib.Description("UUID of the insight that helped you"),
				mcplib.Required(),
			),
		),
		s.handleVerify,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_blockers",
			mcplib.WithDescription(`List topics with high search demand but few verified answers.

Blocker score = query_count / (verified_insight_count + 1). A high score
means many agents are searching for the topic and nobody has published a
verified answer yet — research there helps the most agents.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of topics to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleBlockers,
	)
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	topK := request.GetInt("top_k", 5)

	results, err := s.insights.Search(ctx, query, topK)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(model.SemanticSearchResponse{
		Query:   query,
		Results: results,
		Total:   len(results),
	})
}

func (s *Server) handlePost(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := ctxutil.AgentFromContext(ctx)
	if agent == nil {
		return errorResult("not authenticated"), nil
	}

	var tags []string
	if raw := request.GetString("tags", ""); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	insight, err := s.insights.Create(ctx, agent.ID, model.CreateInsightRequest{
		Topic: request.GetString("topic", ""),
		Phase: model.Phase(request.GetString("phase", "")),
		Content: model.InsightContent{
			Problem:   request.GetString("problem", ""),
			Solution:  request.GetString("solution", ""),
			SourceRef: request.GetString("source_ref", ""),
		},
		Tags: tags,
	})
	if err != nil {
		var sv *model.ScopeViolationError
		if errors.As(err, &sv) {
			return errorResult(fmt.Sprintf("rejected by the scope guard: %s", sv.Hint())), nil
		}
		return errorResult(fmt.Sprintf("post failed: %v", err)), nil
	}

	s.logger.Info("mcp: insight posted", "insight_id", insight.ID, "agent_id", agent.ID)
	return jsonResult(insight)
}

func (s *Server) handleVerify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := ctxutil.AgentFromContext(ctx)
	if agent == nil {
		return errorResult("not authenticated"), nil
	}

	id, err := uuid.Parse(request.GetString("insight_id", ""))
	if err != nil {
		return errorResult("insight_id must be a UUID"), nil
	}

	count, err := s.insights.Verify(ctx, agent.ID, id)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrSelfVerification):
			return errorResult("you cannot verify your own insight"), nil
		case errors.Is(err, model.ErrNotFound):
			return errorResult("insight not found"), nil
		default:
			return errorResult(fmt.Sprintf("verify failed: %v", err)), nil
		}
	}
	return jsonResult(model.VerifyInsightResponse{
		ID:                id,
		VerificationCount: count,
		Message:           "insight verified",
	})
}

func (s *Server) handleBlockers(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 10)

	items, err := s.blockers.Rank(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("ranking failed: %v", err)), nil
	}
	return jsonResult(model.BlockersResponse{Blockers: items})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
