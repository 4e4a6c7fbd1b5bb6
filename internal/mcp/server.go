package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// Server exposes the bug workflow as MCP tools.
type Server struct {
	store   store.Store
	engine  *workflow.Engine
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, e *workflow.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, engine: e, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bugflow", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listBugsTool())
	srv.AddTool(s.getBugTool())
	srv.AddTool(s.transitionBugTool())
	srv.AddTool(s.assignQATool())
	srv.AddTool(s.blockBugTool())
	srv.AddTool(s.unblockBugTool())
	srv.AddTool(s.bugHistoryTool())
	srv.AddTool(s.allowedTransitionsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Output shapes
// ---------------------------------------------------------------------------

type bugOut struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	Severity       string     `json:"severity"`
	Type           string     `json:"type"`
	ReporterID     string     `json:"reporter_id"`
	QAAssigneeID   *string    `json:"qa_assignee_id"`
	IsBlocking     bool       `json:"is_blocking"`
	BlockedByBugID *string    `json:"blocked_by_bug_id"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toBugOut(b *models.Bug) bugOut {
	return bugOut{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		Status:         string(b.Status),
		Priority:       string(b.Priority),
		Severity:       string(b.Severity),
		Type:           string(b.Type),
		ReporterID:     b.ReporterID,
		QAAssigneeID:   b.QAAssigneeID,
		IsBlocking:     b.IsBlocking,
		BlockedByBugID: b.BlockedByBugID,
		ResolvedAt:     b.ResolvedAt,
		ClosedAt:       b.ClosedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

type historyOut struct {
	Action      string    `json:"action"`
	UserID      string    `json:"user_id"`
	OldValue    *string   `json:"old_value"`
	NewValue    *string   `json:"new_value"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult renders a workflow failure with a short classification so
// agents can tell a denied request from a broken one.
func errorResult(err error) *mcp.CallToolResult {
	kind := "error"
	switch {
	case errors.Is(err, workflow.ErrForbidden):
		kind = "forbidden"
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, store.ErrNotFound):
		kind = "not found"
	case errors.Is(err, workflow.ErrInvalid):
		kind = "invalid"
	case errors.Is(err, store.ErrConflict):
		kind = "conflict"
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// actor resolves the required user_id argument to a stored user.
func (s *Server) actor(ctx context.Context, request mcp.CallToolRequest) (workflow.Actor, *mcp.CallToolResult) {
	userID, err := request.RequireString("user_id")
	if err != nil || userID == "" {
		return workflow.Actor{}, mcp.NewToolResultError("missing required parameter: user_id")
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return workflow.Actor{}, mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", userID))
	}
	return workflow.ActorFrom(u), nil
}

// bug resolves the required bug_id argument, accepting a unique prefix.
func (s *Server) bug(ctx context.Context, request mcp.CallToolRequest, key string) (*models.Bug, *mcp.CallToolResult) {
	ref, err := request.RequireString(key)
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: " + key)
	}
	b, err := store.FindBug(ctx, s.store, ref)
	if err != nil {
		return nil, errorResult(err)
	}
	return b, nil
}

func bugIDArg() mcp.ToolOption {
	return mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)"))
}

func userIDArg() mcp.ToolOption {
	return mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user performing the action; their role decides what is allowed"))
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bugflow_list_bugs
func (s *Server) listBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_list_bugs",
		mcp.WithDescription("List bugs ordered by status then priority. Returns a JSON array."),
		mcp.WithString("status", mcp.Description("Filter by status (open, in_progress, code_review, qa_testing, resolved, closed, reopened, rejected)")),
		mcp.WithString("priority", mcp.Description("Filter by priority (low, medium, high, critical)")),
		mcp.WithString("qa_assignee_id", mcp.Description("Filter by QA assignee user ID")),
		mcp.WithBoolean("blocked", mcp.Description("Only bugs that are currently blocked")),
	)
	return tool, s.handleListBugs
}

func (s *Server) handleListBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.BugListFilter{
		QAAssigneeID: request.GetString("qa_assignee_id", ""),
		BlockedOnly:  request.GetBool("blocked", false),
	}
	if v := request.GetString("status", ""); v != "" {
		status, err := models.ParseBugStatus(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = status
	}
	if v := request.GetString("priority", ""); v != "" {
		priority, err := models.ParseBugPriority(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Priority = priority
	}

	bugs, err := s.store.ListBugs(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list bugs: %v", err)), nil
	}

	out := make([]bugOut, len(bugs))
	for i, b := range bugs {
		out[i] = toBugOut(b)
	}
	return jsonResult(out)
}

// bugflow_get_bug
func (s *Server) getBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_get_bug",
		mcp.WithDescription("Get a single bug by ID or unique ID prefix."),
		bugIDArg(),
	)
	return tool, s.handleGetBug
}

func (s *Server) handleGetBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}
	return jsonResult(toBugOut(b))
}

// bugflow_transition_bug
func (s *Server) transitionBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_transition_bug",
		mcp.WithDescription("Move a bug to a new status. The acting user's role must allow the transition from the bug's current status."),
		bugIDArg(),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status")),
		userIDArg(),
		mcp.WithString("notes", mcp.Description("Optional note recorded in the bug history")),
	)
	return tool, s.handleTransitionBug
}

func (s *Server) handleTransitionBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := s.actor(ctx, request)
	if res != nil {
		return res, nil
	}
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}
	statusArg, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	target, err := models.ParseBugStatus(statusArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	updated, err := s.engine.TransitionStatus(ctx, b.ID, target, actor, request.GetString("notes", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toBugOut(updated))
}

// bugflow_assign_qa
func (s *Server) assignQATool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_assign_qa",
		mcp.WithDescription("Assign a QA user to a bug, replacing any previous assignee. Allowed for admin, project_manager and developer roles."),
		bugIDArg(),
		mcp.WithString("qa_user_id", mcp.Required(), mcp.Description("User ID of the QA assignee")),
		userIDArg(),
	)
	return tool, s.handleAssignQA
}

func (s *Server) handleAssignQA(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := s.actor(ctx, request)
	if res != nil {
		return res, nil
	}
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}
	qaUserID, err := request.RequireString("qa_user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: qa_user_id"), nil
	}

	updated, err := s.engine.AssignQA(ctx, b.ID, qaUserID, actor)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toBugOut(updated))
}

// bugflow_block_bug
func (s *Server) blockBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_block_bug",
		mcp.WithDescription("Mark a bug as blocked by another bug."),
		bugIDArg(),
		mcp.WithString("blocked_by_bug_id", mcp.Required(), mcp.Description("ID or unique prefix of the blocking bug")),
		userIDArg(),
		mcp.WithString("reason", mcp.Description("Optional reason recorded in the bug history")),
	)
	return tool, s.handleBlockBug
}

func (s *Server) handleBlockBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := s.actor(ctx, request)
	if res != nil {
		return res, nil
	}
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}
	blocker, res := s.bug(ctx, request, "blocked_by_bug_id")
	if res != nil {
		return res, nil
	}

	updated, err := s.engine.BlockBug(ctx, b.ID, blocker.ID, actor, request.GetString("reason", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toBugOut(updated))
}

// bugflow_unblock_bug
func (s *Server) unblockBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_unblock_bug",
		mcp.WithDescription("Clear a bug's blocking relationship."),
		bugIDArg(),
		userIDArg(),
		mcp.WithString("reason", mcp.Description("Optional reason recorded in the bug history")),
	)
	return tool, s.handleUnblockBug
}

func (s *Server) handleUnblockBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := s.actor(ctx, request)
	if res != nil {
		return res, nil
	}
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}

	updated, err := s.engine.UnblockBug(ctx, b.ID, actor, request.GetString("reason", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toBugOut(updated))
}

// bugflow_bug_history
func (s *Server) bugHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_bug_history",
		mcp.WithDescription("Get a bug's audit trail, newest first."),
		bugIDArg(),
	)
	return tool, s.handleBugHistory
}

func (s *Server) handleBugHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}
	entries, err := s.engine.GetHistory(ctx, b.ID)
	if err != nil {
		return errorResult(err), nil
	}

	out := make([]historyOut, len(entries))
	for i, e := range entries {
		out[i] = historyOut{
			Action:      string(e.Action),
			UserID:      e.UserID,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		}
	}
	return jsonResult(out)
}

// bugflow_allowed_transitions
func (s *Server) allowedTransitionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugflow_allowed_transitions",
		mcp.WithDescription("List the statuses the acting user may move a bug into next."),
		bugIDArg(),
		userIDArg(),
	)
	return tool, s.handleAllowedTransitions
}

func (s *Server) handleAllowedTransitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := s.actor(ctx, request)
	if res != nil {
		return res, nil
	}
	b, res := s.bug(ctx, request, "bug_id")
	if res != nil {
		return res, nil
	}

	targets, err := s.engine.AvailableTransitions(ctx, b.ID, actor)
	if err != nil {
		return errorResult(err), nil
	}
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return jsonResult(map[string]any{
		"bug_id":  b.ID,
		"status":  string(b.Status),
		"role":    string(actor.Role),
		"targets": out,
	})
}
