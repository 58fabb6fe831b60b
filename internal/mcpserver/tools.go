package mcpserver

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/router"
	"github.com/fedmem/federated-memory/internal/security"
)

// Visibility controls whether a tool is callable without a principal.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Tool is one catalog entry: schema, visibility, and handler.
type Tool struct {
	Definition mcp.Tool
	Visibility Visibility
	Handler    server.ToolHandlerFunc
}

// buildCatalog declares the static tool surface. Handlers are thin adapters
// over the router and module layer.
func (s *Server) buildCatalog() []Tool {
	return []Tool{
		{
			Definition: mcp.NewTool("listModules",
				mcp.WithDescription("List the available memory modules and their metadata schemas."),
			),
			Visibility: VisibilityPublic,
			Handler:    s.handleListModules,
		},
		{
			Definition: mcp.NewTool("getModuleStats",
				mcp.WithDescription("Get memory counts and category distribution per module."),
				mcp.WithString("moduleId", mcp.Description("Restrict to one module.")),
			),
			Visibility: VisibilityPublic,
			Handler:    s.handleGetModuleStats,
		},
		{
			Definition: mcp.NewTool("storeMemory",
				mcp.WithDescription("Store a new memory. Routed to the best module unless moduleId is given."),
				mcp.WithString("content", mcp.Required(), mcp.Description("The memory text.")),
				mcp.WithObject("metadata", mcp.Description("Freeform metadata; type/category/tags steer routing.")),
				mcp.WithString("moduleId", mcp.Description("Target module; skips classification.")),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleStoreMemory,
		},
		{
			Definition: mcp.NewTool("searchMemory",
				mcp.WithDescription("Search memories across all modules, or within one."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query.")),
				mcp.WithNumber("limit", mcp.Description("Maximum results, default 10.")),
				mcp.WithString("moduleId", mcp.Description("Delegate the search to one module.")),
				mcp.WithArray("modules", mcp.Description("Restrict candidates to these modules."),
					mcp.Items(map[string]any{"type": "string"})),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleSearchMemory,
		},
		{
			Definition: mcp.NewTool("getMemory",
				mcp.WithDescription("Fetch one memory by id, wherever it lives."),
				mcp.WithString("memoryId", mcp.Required()),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleGetMemory,
		},
		{
			Definition: mcp.NewTool("updateMemory",
				mcp.WithDescription("Update a memory's content and/or metadata. Never moves it between modules."),
				mcp.WithString("memoryId", mcp.Required()),
				mcp.WithString("content", mcp.Description("Replacement content; triggers re-embedding.")),
				mcp.WithObject("metadata", mcp.Description("Replacement metadata.")),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleUpdateMemory,
		},
		{
			Definition: mcp.NewTool("deleteMemory",
				mcp.WithDescription("Delete a memory, its index entry, and its relationships."),
				mcp.WithString("memoryId", mcp.Required()),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleDeleteMemory,
		},
		{
			Definition: mcp.NewTool("listMemories",
				mcp.WithDescription("Page through one module's memories, most recently updated first."),
				mcp.WithString("moduleId", mcp.Required()),
				mcp.WithNumber("limit", mcp.Description("Page size, default 20.")),
				mcp.WithNumber("offset"),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleListMemories,
		},
		{
			Definition: mcp.NewTool("analyzeModule",
				mcp.WithDescription("Aggregate one module: category distribution, top keywords, activity."),
				mcp.WithString("moduleId", mcp.Required()),
				mcp.WithNumber("topKeywords", mcp.Description("Keyword list size, default 15.")),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleAnalyzeModule,
		},
		{
			Definition: mcp.NewTool("classifyMemory",
				mcp.WithDescription("Preview which module a memory would be routed to, without storing it."),
				mcp.WithString("content", mcp.Required()),
				mcp.WithObject("metadata"),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleClassifyMemory,
		},
		{
			Definition: mcp.NewTool("createRelationship",
				mcp.WithDescription("Link two memories, possibly across modules."),
				mcp.WithString("sourceMemoryId", mcp.Required()),
				mcp.WithString("targetMemoryId", mcp.Required()),
				mcp.WithString("relationshipType", mcp.Required(), mcp.Description("e.g. references, contradicts, extends")),
				mcp.WithNumber("strength", mcp.Description("Link strength in (0, 1], default 0.5.")),
				mcp.WithObject("metadata"),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleCreateRelationship,
		},
		{
			Definition: mcp.NewTool("listRelationships",
				mcp.WithDescription("List your memory relationships, newest first."),
				mcp.WithNumber("limit"),
				mcp.WithNumber("offset"),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleListRelationships,
		},
		{
			Definition: mcp.NewTool("registerCategory",
				mcp.WithDescription("Register a category name for use in memory metadata."),
				mcp.WithString("name", mcp.Required()),
				mcp.WithString("description"),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleRegisterCategory,
		},
		{
			Definition: mcp.NewTool("listCategories",
				mcp.WithDescription("List your registered categories."),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleListCategories,
		},
		{
			Definition: mcp.NewTool("whoami",
				mcp.WithDescription("Show the authenticated principal."),
			),
			Visibility: VisibilityPrivate,
			Handler:    s.handleWhoami,
		},
	}
}

func userID(ctx context.Context) string {
	if uc := security.UserContextFrom(ctx); uc != nil {
		return uc.UserID
	}
	return ""
}

func parseMemoryID(req mcp.CallToolRequest) (uuid.UUID, error) {
	raw, err := req.RequireString("memoryId")
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidArgument, "memoryId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindInvalidArgument, "memoryId %q is not a UUID", raw)
	}
	return id, nil
}

func metadataArg(req mcp.CallToolRequest, key string) map[string]any {
	if m, ok := req.GetArguments()[key].(map[string]any); ok {
		return m
	}
	return nil
}

func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleListModules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type moduleInfo struct {
		ID             string         `json:"id"`
		Name           string         `json:"name"`
		Description    string         `json:"description"`
		MetadataSchema map[string]any `json:"metadataSchema,omitempty"`
	}
	var out []moduleInfo
	for _, mod := range s.router.Registry().List() {
		def := mod.Definition()
		out = append(out, moduleInfo{
			ID:             def.ID,
			Name:           def.Name,
			Description:    def.Description,
			MetadataSchema: def.MetadataSchema,
		})
	}
	return textResult(map[string]any{"modules": out})
}

func (s *Server) handleGetModuleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := userID(ctx)
	var mods []*module.Module
	if moduleID := req.GetString("moduleId", ""); moduleID != "" {
		mod, err := s.router.Registry().Get(moduleID)
		if err != nil {
			return errorResult(err), nil
		}
		mods = append(mods, mod)
	} else {
		mods = s.router.Registry().List()
	}

	var out []*module.Stats
	for _, mod := range mods {
		if uid == "" {
			// Without a principal only the shape is visible, never data.
			out = append(out, &module.Stats{ModuleID: mod.ID(), Categories: map[string]int{}})
			continue
		}
		stats, err := mod.GetStats(ctx, uid)
		if err != nil {
			return errorResult(err), nil
		}
		out = append(out, stats)
	}
	return textResult(map[string]any{"stats": out})
}

func (s *Server) handleStoreMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "content is required")), nil
	}
	moduleID, id, err := s.router.Store(ctx, userID(ctx), content,
		metadataArg(req, "metadata"), req.GetString("moduleId", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"memoryId": id, "moduleId": moduleID})
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "query is required")), nil
	}
	hits, err := s.router.Search(ctx, userID(ctx), query, router.SearchOptions{
		Limit:    req.GetInt("limit", 10),
		ModuleID: req.GetString("moduleId", ""),
		Modules:  stringSliceArg(req, "modules"),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"results": hits, "count": len(hits)})
}

func (s *Server) handleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseMemoryID(req)
	if err != nil {
		return errorResult(err), nil
	}
	moduleID, row, err := s.router.Get(ctx, userID(ctx), id)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"memory": row, "moduleId": moduleID})
}

func (s *Server) handleUpdateMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseMemoryID(req)
	if err != nil {
		return errorResult(err), nil
	}
	var update module.UpdateRequest
	if content := req.GetString("content", ""); content != "" {
		update.Content = &content
	}
	update.Metadata = metadataArg(req, "metadata")
	if update.Content == nil && update.Metadata == nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "nothing to update")), nil
	}
	moduleID, row, err := s.router.Update(ctx, userID(ctx), id, update)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"memory": row, "moduleId": moduleID})
}

func (s *Server) handleDeleteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseMemoryID(req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := s.router.Delete(ctx, userID(ctx), id); err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"deleted": true, "memoryId": id})
}

func (s *Server) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	moduleID, err := req.RequireString("moduleId")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "moduleId is required")), nil
	}
	mod, err := s.router.Registry().Get(moduleID)
	if err != nil {
		return errorResult(err), nil
	}
	rows, err := mod.List(ctx, userID(ctx), nil, req.GetInt("limit", 20), req.GetInt("offset", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"memories": rows, "moduleId": moduleID, "count": len(rows)})
}

func (s *Server) handleAnalyzeModule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	moduleID, err := req.RequireString("moduleId")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "moduleId is required")), nil
	}
	mod, err := s.router.Registry().Get(moduleID)
	if err != nil {
		return errorResult(err), nil
	}
	analysis, err := mod.Analyze(ctx, userID(ctx), module.AnalyzeOptions{
		TopKeywords: req.GetInt("topKeywords", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(analysis)
}

func (s *Server) handleClassifyMemory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "content is required")), nil
	}
	moduleID := s.router.Classify(content, metadataArg(req, "metadata"))
	return textResult(map[string]any{"moduleId": moduleID})
}

func (s *Server) handleCreateRelationship(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceRaw, err := req.RequireString("sourceMemoryId")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "sourceMemoryId is required")), nil
	}
	targetRaw, err := req.RequireString("targetMemoryId")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "targetMemoryId is required")), nil
	}
	source, err := uuid.Parse(sourceRaw)
	if err != nil {
		return errorResult(apperr.Newf(apperr.KindInvalidArgument, "sourceMemoryId %q is not a UUID", sourceRaw)), nil
	}
	target, err := uuid.Parse(targetRaw)
	if err != nil {
		return errorResult(apperr.Newf(apperr.KindInvalidArgument, "targetMemoryId %q is not a UUID", targetRaw)), nil
	}
	relType := req.GetString("relationshipType", "")
	rel, err := s.router.CreateRelationship(ctx, userID(ctx), source, target, relType,
		req.GetFloat("strength", 0.5), metadataArg(req, "metadata"))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"relationship": rel})
}

func (s *Server) handleListRelationships(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rels, err := s.router.ListRelationships(ctx, userID(ctx), req.GetInt("limit", 50), req.GetInt("offset", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"relationships": rels, "count": len(rels)})
}

func (s *Server) handleRegisterCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return errorResult(apperr.New(apperr.KindInvalidArgument, "name is required")), nil
	}
	cat, err := s.categories.Register(ctx, userID(ctx), name, req.GetString("description", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"category": cat})
}

func (s *Server) handleListCategories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cats, err := s.categories.List(ctx, userID(ctx))
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(map[string]any{"categories": cats})
}

func (s *Server) handleWhoami(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(map[string]any{"user": security.UserContextFrom(ctx)})
}
