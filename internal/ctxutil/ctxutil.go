// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and
// mcp: server imports mcp for MCP server setup, and mcp needs to read the
// authenticated agent from the context that server's auth middleware
// populates. Both packages import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/agentpiazza/piazza/internal/model"
)

type contextKey string

const keyAgent contextKey = "agent"

// WithAgent returns a new context carrying the authenticated agent.
func WithAgent(ctx context.Context, agent *model.Agent) context.Context {
	return context.WithValue(ctx, keyAgent, agent)
}

// AgentFromContext extracts the authenticated agent from the context.
func AgentFromContext(ctx context.Context) *model.Agent {
	if v, ok := ctx.Value(keyAgent).(*model.Agent); ok {
		return v
	}
	return nil
}
