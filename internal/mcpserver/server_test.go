package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedmem/federated-memory/internal/category"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/plugin/embed/local"
	"github.com/fedmem/federated-memory/internal/relationship"
	"github.com/fedmem/federated-memory/internal/router"
	"github.com/fedmem/federated-memory/internal/security"
	"github.com/fedmem/federated-memory/internal/userstore"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EmbeddingDimensionFull = 64
	cfg.EmbeddingDimensionCompressed = 32
	provider := embedding.NewProvider(&local.LocalEmbedder{}, nil, &cfg)

	registry := module.NewRegistry()
	index := router.NewMemoryIndex()
	r := router.New(registry, index, relationship.NewMemoryStore(), provider, &cfg)
	for _, def := range module.StandardDefinitions() {
		require.NoError(t, registry.Register(module.New(def, vectorstore.NewMemoryStore(64), provider, r)))
	}

	resolver := security.NewResolver(userstore.NewMemoryUsers(), nil, cfg.APIKeyPrefix)
	return New(&cfg, r, resolver, category.NewMemoryStore())
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// invoke runs a tool through the same middleware chain the MCP server uses.
func invoke(t *testing.T, s *Server, ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var handler server.ToolHandlerFunc
	for _, tool := range s.catalog {
		if tool.Definition.Name == name {
			handler = tool.Handler
		}
	}
	require.NotNil(t, handler, "unknown tool %s", name)
	result, err := s.gateMiddleware(handler)(ctx, callRequest(name, args))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "tool output must be a text content block")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func authedCtx(userID string) context.Context {
	return security.WithUserContext(context.Background(),
		&model.UserContext{UserID: userID, DisplayName: "Alice"})
}

func TestPublicToolsWithoutPrincipal(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result := invoke(t, s, ctx, "listModules", nil)
	assert.False(t, result.IsError)
	out := resultJSON(t, result)
	assert.Len(t, out["modules"], 6)

	result = invoke(t, s, ctx, "getModuleStats", nil)
	assert.False(t, result.IsError)
}

func TestPrivateToolGatedWithoutPrincipal(t *testing.T) {
	s := newTestServer(t)

	result := invoke(t, s, context.Background(), "searchMemory", map[string]any{"query": "anything"})
	require.True(t, result.IsError)

	payload := resultJSON(t, result)
	assert.Equal(t, float64(-32001), payload["code"])
	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AuthenticationRequired", data["kind"])
	details, ok := data["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "oauth_required", details["error"])
}

func TestEveryPrivateToolIsGated(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, tool := range s.catalog {
		if tool.Visibility != VisibilityPrivate {
			continue
		}
		result := invoke(t, s, ctx, tool.Definition.Name, nil)
		require.True(t, result.IsError, "tool %s must be gated", tool.Definition.Name)
		payload := resultJSON(t, result)
		assert.Equal(t, float64(-32001), payload["code"], "tool %s", tool.Definition.Name)
	}
}

func TestStoreSearchGetDeleteRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := authedCtx("alice")

	stored := resultJSON(t, invoke(t, s, ctx, "storeMemory", map[string]any{
		"content":  "kickoff notes",
		"metadata": map[string]any{"type": "project", "projectName": "Atlas"},
	}))
	assert.Equal(t, "work", stored["moduleId"])
	memoryID, _ := stored["memoryId"].(string)
	require.NotEmpty(t, memoryID)

	searched := resultJSON(t, invoke(t, s, ctx, "searchMemory", map[string]any{
		"query": "Atlas kickoff", "limit": float64(3),
	}))
	results, ok := searched["results"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, results)
	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, memoryID, first["id"])
	assert.GreaterOrEqual(t, first["similarity"].(float64), 0.5)

	got := resultJSON(t, invoke(t, s, ctx, "getMemory", map[string]any{"memoryId": memoryID}))
	assert.Equal(t, "work", got["moduleId"])

	deleted := resultJSON(t, invoke(t, s, ctx, "deleteMemory", map[string]any{"memoryId": memoryID}))
	assert.Equal(t, true, deleted["deleted"])

	notFound := invoke(t, s, ctx, "getMemory", map[string]any{"memoryId": memoryID})
	require.True(t, notFound.IsError)
	payload := resultJSON(t, notFound)
	data := payload["data"].(map[string]any)
	assert.Equal(t, "NotFound", data["kind"])
}

func TestInvalidArgumentsRejected(t *testing.T) {
	s := newTestServer(t)
	ctx := authedCtx("alice")

	result := invoke(t, s, ctx, "getMemory", map[string]any{"memoryId": "not-a-uuid"})
	require.True(t, result.IsError)
	payload := resultJSON(t, result)
	assert.Equal(t, float64(-32602), payload["code"])

	result = invoke(t, s, ctx, "storeMemory", map[string]any{})
	require.True(t, result.IsError)
	payload = resultJSON(t, result)
	assert.Equal(t, float64(-32602), payload["code"])
}

func TestClassifyMemoryTool(t *testing.T) {
	s := newTestServer(t)
	ctx := authedCtx("alice")

	out := resultJSON(t, invoke(t, s, ctx, "classifyMemory", map[string]any{
		"content": "Today I went hiking with my sister",
	}))
	assert.Equal(t, "personal", out["moduleId"])
}

func TestCategoryTools(t *testing.T) {
	s := newTestServer(t)
	ctx := authedCtx("alice")

	registered := resultJSON(t, invoke(t, s, ctx, "registerCategory", map[string]any{
		"name": "Gardening", "description": "plants and soil",
	}))
	cat := registered["category"].(map[string]any)
	assert.Equal(t, "gardening", cat["name"])

	listed := resultJSON(t, invoke(t, s, ctx, "listCategories", nil))
	cats := listed["categories"].([]any)
	require.Len(t, cats, 1)

	// Another user sees nothing.
	other := resultJSON(t, invoke(t, s, authedCtx("bob"), "listCategories", nil))
	assert.Empty(t, other["categories"])
}

func TestWhoami(t *testing.T) {
	s := newTestServer(t)
	out := resultJSON(t, invoke(t, s, authedCtx("alice"), "whoami", nil))
	user := out["user"].(map[string]any)
	assert.Equal(t, "alice", user["userId"])
}

func TestTokenFromPath(t *testing.T) {
	assert.Equal(t, "abc123", tokenFromPath("/t/abc123/sse"))
	assert.Equal(t, "abc123", tokenFromPath("/t/abc123/message"))
	assert.Equal(t, "abc123", tokenFromPath("/t/abc123"))
	assert.Equal(t, "", tokenFromPath("/mcp"))
}
