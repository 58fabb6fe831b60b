package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/security"
)

// gateMiddleware rejects private tools invoked without a resolved principal.
// The rejection carries the reserved -32001 payload so clients can start an
// OAuth flow and retry.
func (s *Server) gateMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	public := map[string]bool{}
	for _, tool := range s.catalog {
		if tool.Visibility == VisibilityPublic {
			public[tool.Definition.Name] = true
		}
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if public[req.Params.Name] {
			return next(ctx, req)
		}
		if security.UserContextFrom(ctx) == nil {
			return errorResult(s.authRequiredError()), nil
		}
		return next(ctx, req)
	}
}

func (s *Server) authRequiredError() *apperr.Error {
	return apperr.New(apperr.KindAuthenticationRequired, "authentication required").
		WithDetails(map[string]any{
			"error":             "oauth_required",
			"resource_metadata": s.cfg.BaseURL + "/.well-known/oauth-protected-resource",
		})
}

// errorResult renders a classified error as the tool's JSON error payload.
func errorResult(err error) *mcp.CallToolResult {
	raw, marshalErr := json.Marshal(apperr.Payload(err))
	if marshalErr != nil {
		raw = []byte(`{"code":-32603,"message":"internal error","data":{"kind":"Internal"}}`)
	}
	result := mcp.NewToolResultText(string(raw))
	result.IsError = true
	return result
}

// textResult renders a tool's output as a JSON text content block.
func textResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult(apperr.Wrap(apperr.KindInternal, "result serialization failed", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// ChallengeMiddleware adds the WWW-Authenticate challenge to unauthenticated
// responses on the streamable HTTP transport.
func (s *Server) ChallengeMiddleware() gin.HandlerFunc {
	challenge := fmt.Sprintf(`Bearer realm=%q, resource_metadata=%q`,
		s.cfg.BaseURL, s.cfg.BaseURL+"/.well-known/oauth-protected-resource")
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Header("WWW-Authenticate", challenge)
		}
		c.Next()
	}
}
