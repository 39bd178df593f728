// Package mcptools exposes the conversation store as Model Context Protocol
// tools so assistants can record turns and query their own history.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/memory"
)

// ServerName is advertised to MCP clients during initialization.
const ServerName = "chatmem"

// Tool names.
const (
	ToolAddMessage    = "add_message"
	ToolGetContext    = "get_context"
	ToolSearchHistory = "search_history"
	ToolListSummaries = "list_summaries"
	ToolListSessions  = "list_sessions"
	ToolCreateSession = "create_session"
	ToolCompact       = "compact"
)

// Server binds a conversation store to an MCP server.
type Server struct {
	store  *conversation.Store
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New creates a Server and registers every tool.
func New(store *conversation.Store, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		mcp:    server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		logger: logger.With("component", "mcp"),
	}
	s.register()
	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects or
// the process receives SIGINT/SIGTERM.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server ready on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool(ToolAddMessage,
		mcp.WithDescription("Append one conversation turn to the history. Older turns are summarized automatically."),
		mcp.WithString("role", mcp.Required(),
			mcp.Description("Who produced the turn"),
			mcp.Enum(string(memory.RoleUser), string(memory.RoleModel), string(memory.RoleSystem))),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text of the turn")),
	), s.addMessage)

	s.mcp.AddTool(mcp.NewTool(ToolGetContext,
		mcp.WithDescription("Return the latest summary followed by the most recent turns, oldest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of raw turns; 0 uses the configured window")),
	), s.getContext)

	s.mcp.AddTool(mcp.NewTool(ToolSearchHistory,
		mcp.WithDescription("Case-insensitive substring search over turns and summaries, newest first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
	), s.searchHistory)

	s.mcp.AddTool(mcp.NewTool(ToolListSummaries,
		mcp.WithDescription("List every stored summary with the message range it covers."),
	), s.listSummaries)

	s.mcp.AddTool(mcp.NewTool(ToolListSessions,
		mcp.WithDescription("List chat sessions, most recently updated first."),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool(ToolCreateSession,
		mcp.WithDescription("Create a chat session."),
		mcp.WithString("title", mcp.Description("Session title; defaults to \""+memory.DefaultSessionTitle+"\"")),
	), s.createSession)

	s.mcp.AddTool(mcp.NewTool(ToolCompact,
		mcp.WithDescription("Run the retention policy now and report whether a summary was written."),
	), s.compact)
}

func (s *Server) addMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawRole, err := req.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	role, err := memory.ParseRole(rawRole)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg, err := s.store.AddMessage(ctx, role, content)
	if err != nil {
		return s.toolError(ToolAddMessage, err), nil
	}
	return jsonResult(msg)
}

func (s *Server) getContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be non-negative"), nil
	}
	entries, err := s.store.GetContext(ctx, limit)
	if err != nil {
		return s.toolError(ToolGetContext, err), nil
	}
	return jsonResult(entries)
}

func (s *Server) searchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.store.Search(ctx, query)
	if err != nil {
		return s.toolError(ToolSearchHistory, err), nil
	}
	return jsonResult(hits)
}

func (s *Server) listSummaries(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.store.Summaries(ctx)
	if err != nil {
		return s.toolError(ToolListSummaries, err), nil
	}
	return jsonResult(list)
}

func (s *Server) listSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return s.toolError(ToolListSessions, err), nil
	}
	return jsonResult(sessions)
}

func (s *Server) createSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.store.CreateSession(ctx, req.GetString("title", ""))
	if err != nil {
		return s.toolError(ToolCreateSession, err), nil
	}
	return jsonResult(sess)
}

func (s *Server) compact(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.store.Compact(ctx)
	if err != nil {
		return s.toolError(ToolCompact, err), nil
	}
	if !res.Compressed {
		return mcp.NewToolResultText("nothing to compress"), nil
	}
	return jsonResult(res.Summary)
}

// toolError reports a store failure to the client as a tool-level error so
// the model can react to it.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp tool failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcptools: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
