package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/applyd/internal/composer"
	"github.com/kalambet/applyd/internal/pipeline"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Factory        *pipeline.Factory
	Profiles       *profile.Manager
	DefaultRAGType int
}

// NewMCPServer creates an MCP server exposing retrieval, drafting and
// classification over stored profiles.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultRAGType == 0 {
		deps.DefaultRAGType = retrieval.RAGDirect
	}

	s := server.NewMCPServer(
		"applyd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("applyd answers recruiter messages as a stored job applicant profile."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("retrieve_context",
			mcp.WithDescription("Retrieve the profile context a reply to the query would be grounded on."),
			mcp.WithNumber("profile_index", mcp.Description("Profile index of the applicant"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Incoming message or job description"), mcp.Required()),
			mcp.WithNumber("rag_type", mcp.Description("1 for direct retrieval, 2 for skill back-reference")),
		),
		mcpRetrieveContext(deps),
	)

	s.AddTool(
		mcp.NewTool("draft_reply",
			mcp.WithDescription("Draft a grounded reply to a message as the applicant."),
			mcp.WithNumber("profile_index", mcp.Description("Profile index of the applicant"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Message to reply to"), mcp.Required()),
			mcp.WithString("channel", mcp.Description("chat or email (default chat)")),
			mcp.WithNumber("rag_type", mcp.Description("1 for direct retrieval, 2 for skill back-reference")),
		),
		mcpDraftReply(deps),
	)

	s.AddTool(
		mcp.NewTool("classify_message",
			mcp.WithDescription("Report whether a message carries job-related content that needs fresh grounding."),
			mcp.WithString("message", mcp.Description("Message to classify"), mcp.Required()),
		),
		mcpClassifyMessage(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"profile://{index}",
			"Applicant Profile",
			mcp.WithTemplateDescription("Stored profile record as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpRetrieveContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idx, err := req.RequireInt("profile_index")
		if err != nil {
			return mcpError("profile_index is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		ragType := req.GetInt("rag_type", deps.DefaultRAGType)

		retrieved, err := deps.Factory.Retrieve(ctx, idx, ragType, query)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpText(retrieved), nil
	}
}

func mcpDraftReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idx, err := req.RequireInt("profile_index")
		if err != nil {
			return mcpError("profile_index is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		ch, err := composer.ParseChannel(req.GetString("channel", string(composer.ChannelChat)))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		ragType := req.GetInt("rag_type", deps.DefaultRAGType)

		res, err := deps.Factory.Draft(ctx, idx, ragType, message, ch)
		if err != nil {
			return mcpError(fmt.Sprintf("draft failed: %v", err)), nil
		}
		return mcpText(res.Reply), nil
	}
}

func mcpClassifyMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		grounding, err := deps.Factory.Classify(ctx, message)
		if err != nil {
			return mcpError(fmt.Sprintf("classification failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]bool{"grounding_event": grounding})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		raw := strings.TrimPrefix(req.Params.URI, "profile://")
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 1 {
			return nil, fmt.Errorf("invalid profile uri %q", req.Params.URI)
		}

		rec, err := deps.Profiles.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		b, err := profile.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
