package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerPrompts adds the prompt catalog. Prompts are conveniences layered
// over the tool surface; they carry no behavior of their own.
func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("remember",
		mcp.WithPromptDescription("Store something worth remembering, routed to the right module."),
		mcp.WithArgument("content", mcp.RequiredArgument(),
			mcp.ArgumentDescription("What to remember.")),
	), s.rememberPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("recall",
		mcp.WithPromptDescription("Search stored memories relevant to a topic."),
		mcp.WithArgument("topic", mcp.RequiredArgument(),
			mcp.ArgumentDescription("What to look for.")),
	), s.recallPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("memoryOverview",
		mcp.WithPromptDescription("Summarize what is stored across all memory modules."),
	), s.overviewPrompt)
}

func (s *Server) rememberPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	content := req.Params.Arguments["content"]
	return mcp.NewGetPromptResult("Store a memory", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(fmt.Sprintf(
			"Store the following as a memory using the storeMemory tool, adding any metadata "+
				"(type, category, tags) you can infer from it:\n\n%s", content))),
	}), nil
}

func (s *Server) recallPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := req.Params.Arguments["topic"]
	return mcp.NewGetPromptResult("Recall memories", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(fmt.Sprintf(
			"Use the searchMemory tool to find memories about %q, then summarize what you find. "+
				"If nothing relevant comes back, say so.", topic))),
	}), nil
}

func (s *Server) overviewPrompt(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	ids := s.router.Registry().IDs()
	return mcp.NewGetPromptResult("Memory overview", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(fmt.Sprintf(
			"Call getModuleStats and analyzeModule for each of these modules (%s) and produce a "+
				"short overview of what is stored where.", strings.Join(ids, ", ")))),
	}), nil
}
