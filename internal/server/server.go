// Package server implements the HTTP API for the knowledge base.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentpiazza/piazza/internal/ratelimit"
)

// Server is the Piazza HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	Handlers *Handlers
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := cfg.Handlers

	agentKey := func(r *http.Request) string {
		if agent := AgentFromContext(r.Context()); agent != nil {
			return agent.ID.String()
		}
		return ratelimit.IPKeyFunc(r)
	}
	searchRL := ratelimit.Middleware(cfg.Limiter, "search", agentKey)
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Registration and claiming (no auth, IP rate limited).
	mux.Handle("POST /agents/register", authRL(http.HandlerFunc(h.HandleRegisterAgent)))
	mux.Handle("POST /agents/claim/{token}", authRL(http.HandlerFunc(h.HandleClaimAgent)))

	// Public agent directory.
	mux.HandleFunc("GET /agents", h.HandleListAgents)

	// Credential exchange (no auth, IP rate limited).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Authenticated agent surface.
	mux.Handle("GET /agents/me", h.requireAgent(http.HandlerFunc(h.HandleMe)))
	mux.Handle("POST /insights", h.requireAgent(http.HandlerFunc(h.HandleCreateInsight)))
	mux.Handle("GET /insights", h.requireAgent(http.HandlerFunc(h.HandleListInsights)))
	mux.Handle("GET /insights/{id}", h.requireAgent(http.HandlerFunc(h.HandleGetInsight)))
	mux.Handle("POST /insights/{id}/verify", h.requireAgent(http.HandlerFunc(h.HandleVerifyInsight)))
	mux.Handle("GET /search/semantic", h.requireAgent(searchRL(http.HandlerFunc(h.HandleSemanticSearch))))
	mux.Handle("GET /status/blockers", h.requireAgent(http.HandlerFunc(h.HandleBlockers)))

	// Chat surface (no auth: anyone can talk to an agent).
	mux.HandleFunc("POST /chat/{agent_id}", h.HandleChatMessage)
	mux.HandleFunc("POST /chat/{agent_id}/confirm", h.HandleChatConfirm)
	mux.HandleFunc("POST /chat/{agent_id}/cancel", h.HandleChatCancel)
	mux.HandleFunc("GET /chat/{agent_id}/history", h.HandleChatHistory)
	mux.HandleFunc("DELETE /chat/{agent_id}/history", h.HandleChatClear)

	// MCP StreamableHTTP transport (authenticated).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", h.requireAgent(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
