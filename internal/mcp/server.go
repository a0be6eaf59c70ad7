// Package mcp exposes workflows as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	workflows *services.WorkflowService
	chat      *services.ChatService
}

func NewServer(workflows *services.WorkflowService, chat *services.ChatService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"agentcanvas",
			version,
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
		chat:      chat,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflows owned by the calling user"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_agent_config",
			mcp.WithDescription("Resolve the model and system prompt a workflow runs with"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleGetAgentConfig,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_agent",
			mcp.WithDescription("Send one message to a workflow's agent and return its full reply"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The user message")),
		),
		s.handleRunAgent,
	)
}

// errUnauthenticated is returned as a tool error when the transport did not
// attach a user to the call.
const errUnauthenticated = "Authentication required"

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(errUnauthenticated), nil
	}

	workflows, err := s.workflows.List(ctx, user.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	jsonBytes, _ := json.Marshal(workflows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

type agentConfig struct {
	WorkflowID   string `json:"workflow_id"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	Defaulted    bool   `json:"defaulted"`
}

func (s *Server) handleGetAgentConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(errUnauthenticated), nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	loaded, err := s.workflows.LoadGraph(ctx, workflowID, user.ID)
	if err != nil {
		if errors.Is(err, services.ErrWorkflowNotFound) {
			return mcp.NewToolResultError("Workflow not found"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}

	cfg := graph.ResolveEntryConfig(loaded.Graph)
	jsonBytes, _ := json.Marshal(agentConfig{
		WorkflowID:   workflowID,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Defaulted:    loaded.Defaulted,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(errUnauthenticated), nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	message, err := request.RequireString("message")
	if err != nil || message == "" {
		return mcp.NewToolResultError("Missing required parameter: message"), nil
	}

	// The chat pipeline resolves any workflow id, so ownership is checked here.
	if _, err := s.workflows.Get(ctx, workflowID, user.ID); err != nil {
		if errors.Is(err, services.ErrWorkflowNotFound) {
			return mcp.NewToolResultError("Workflow not found"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}

	userID := user.ID
	result, err := s.chat.Run(ctx, services.ChatRequest{
		WorkflowID: workflowID,
		Messages:   []models.Message{{Role: models.RoleUser, Content: message}},
		UserID:     &userID,
	}, func(string) error { return nil })
	if err != nil {
		if errors.Is(err, services.ErrWorkflowNotFound) {
			return mcp.NewToolResultError("Workflow not found"), nil
		}
		msg := fmt.Sprintf("Agent run failed: %v", err)
		if result != nil && result.Output != "" {
			msg += "\npartial output: " + result.Output
		}
		return mcp.NewToolResultError(msg), nil
	}

	return mcp.NewToolResultText(result.Output), nil
}

// MountHTTPHandlers registers the SSE transport. The mux must sit behind
// authentication middleware that stores the caller with auth.WithUser.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE transport under /mcp/sse and /mcp/message
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(withCaller),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

// withCaller copies the authenticated user from the HTTP request onto the
// context tool handlers run with.
func withCaller(ctx context.Context, r *http.Request) context.Context {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return auth.WithUser(ctx, user)
	}
	return ctx
}
