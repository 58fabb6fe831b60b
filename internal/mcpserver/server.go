// Package mcpserver exposes the memory service over the Model Context
// Protocol on two transports: streamable HTTP and token-in-URL SSE.
package mcpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/charmbracelet/log"
	"github.com/fedmem/federated-memory/internal/category"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/router"
	"github.com/fedmem/federated-memory/internal/security"
)

// ServerName and ServerVersion form the MCP server identity.
const (
	ServerName    = "federated-memory"
	ServerVersion = "1.0.0"
)

// Server wires the tool surface onto MCP transports.
type Server struct {
	cfg        *config.Config
	router     *router.Router
	resolver   *security.Resolver
	categories category.Store
	catalog    []Tool
	sessions   *sessionTracker
	mcp        *server.MCPServer
}

// New builds the MCP server with the full tool catalog registered.
func New(cfg *config.Config, r *router.Router, resolver *security.Resolver, categories category.Store) *Server {
	s := &Server{
		cfg:        cfg,
		router:     r,
		resolver:   resolver,
		categories: categories,
		sessions:   newSessionTracker(),
	}
	s.catalog = s.buildCatalog()

	// Session lifecycle feeds the idle reaper.
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.touchAt(session.SessionID(), time.Now())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.remove(session.SessionID())
	})

	s.mcp = server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithToolHandlerMiddleware(s.deadlineMiddleware),
		server.WithToolHandlerMiddleware(s.gateMiddleware),
	)
	for _, tool := range s.catalog {
		s.mcp.AddTool(tool.Definition, tool.Handler)
	}
	s.registerPrompts()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// StreamableHandler serves the streamable HTTP transport. The Authorization
// header is resolved into a UserContext before dispatch.
func (s *Server) StreamableHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(s.bearerContext),
	)
}

// SSEHandlers serves the token-in-URL transport: an SSE stream plus its
// message endpoint, both nested under the opaque token path segment.
func (s *Server) SSEHandlers() (http.Handler, http.Handler) {
	keepAlive := s.cfg.SSEKeepAlive
	if keepAlive <= 0 || keepAlive > 30*time.Second {
		keepAlive = 25 * time.Second
	}
	sse := server.NewSSEServer(s.mcp,
		server.WithSSEContextFunc(s.urlTokenContext),
		server.WithKeepAliveInterval(keepAlive),
		server.WithDynamicBasePath(func(r *http.Request, _ string) string {
			return "/t/" + tokenFromPath(r.URL.Path)
		}),
	)
	return sse.SSEHandler(), sse.MessageHandler()
}

// bearerContext resolves the Authorization header. Unauthenticated requests
// proceed; tool gating decides what they may call.
func (s *Server) bearerContext(ctx context.Context, r *http.Request) context.Context {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ctx
	}
	uc, err := s.resolver.ResolveBearer(ctx, auth)
	if err != nil {
		log.Warn("Bearer resolution failed", "err", err)
		return ctx
	}
	return security.WithUserContext(ctx, uc)
}

// urlTokenContext resolves the opaque token carried in the URL path.
func (s *Server) urlTokenContext(ctx context.Context, r *http.Request) context.Context {
	token := tokenFromPath(r.URL.Path)
	if token == "" {
		return ctx
	}
	uc, err := s.resolver.ResolveURLToken(ctx, token)
	if err != nil {
		log.Warn("URL token resolution failed", "err", err)
		return ctx
	}
	return security.WithUserContext(ctx, uc)
}

// tokenFromPath extracts <token> from /t/<token>/...
func tokenFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/t/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// deadlineMiddleware enforces the per-invocation deadline and records
// tool metrics.
func (s *Server) deadlineMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if cs := server.ClientSessionFromContext(ctx); cs != nil {
			s.sessions.touchAt(cs.SessionID(), time.Now())
		}

		deadline := s.cfg.ToolDeadline
		if deadline <= 0 {
			deadline = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		start := time.Now()
		result, err := next(ctx, req)
		outcome := "ok"
		if err != nil || (result != nil && result.IsError) {
			outcome = "error"
		}
		security.ObserveTool(req.Params.Name, outcome, time.Since(start))
		return result, err
	}
}
