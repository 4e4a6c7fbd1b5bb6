package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestServer creates a Server over a fresh SQLite store seeded with one
// user per role.
func newTestServer(t *testing.T) (*Server, store.Store, *workflow.Engine) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	for _, u := range []*models.User{
		{ID: "admin", Name: "Ada Admin", Role: models.RoleAdmin},
		{ID: "dev", Name: "Dana Dev", Role: models.RoleDeveloper},
		{ID: "42", Name: "Quinn QA", Role: models.RoleQA},
		{ID: "tester", Name: "Tess Tester", Role: models.RoleTester},
		{ID: "client", Name: "Casey Client", Role: models.RoleClient},
		{ID: "viewer", Name: "Vic Viewer", Role: models.RoleViewer},
	} {
		require.NoError(t, s.CreateUser(context.Background(), u))
	}

	engine := workflow.NewEngine(workflow.NewStoreRunner(s), clock.Real())
	srv := NewServer(s, engine, "test")
	require.NotNil(t, srv)
	return srv, s, engine
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func seedBug(t *testing.T, e *workflow.Engine, title string) *models.Bug {
	t.Helper()
	b, err := e.CreateBug(context.Background(), &models.Bug{Title: title}, workflow.Actor{UserID: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	return b
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMCPServer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleListBugs(t *testing.T) {
	srv, _, e := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleListBugs(ctx, callToolReq("bugflow_list_bugs", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "[]", resultText(t, result))

	seedBug(t, e, "one")
	b := seedBug(t, e, "two")
	_, err = e.TransitionStatus(ctx, b.ID, models.BugStatusClosed, workflow.Actor{UserID: "admin", Role: models.RoleAdmin}, "")
	require.NoError(t, err)

	result, err = srv.handleListBugs(ctx, callToolReq("bugflow_list_bugs", map[string]any{"status": "CLOSED"}))
	require.NoError(t, err)
	var out []bugOut
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "two", out[0].Title)
	assert.Equal(t, "closed", out[0].Status)

	result, err = srv.handleListBugs(ctx, callToolReq("bugflow_list_bugs", map[string]any{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetBug_Prefix(t *testing.T) {
	srv, _, e := newTestServer(t)
	b := seedBug(t, e, "prefix me")

	result, err := srv.handleGetBug(context.Background(), callToolReq("bugflow_get_bug", map[string]any{"bug_id": strings.ToLower(b.ID[:20])}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out bugOut
	resultJSON(t, result, &out)
	assert.Equal(t, b.ID, out.ID)

	result, err = srv.handleGetBug(context.Background(), callToolReq("bugflow_get_bug", map[string]any{"bug_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleTransitionBug(t *testing.T) {
	srv, s, e := newTestServer(t)
	ctx := context.Background()
	b := seedBug(t, e, "flow")

	t.Run("missing user", func(t *testing.T) {
		result, err := srv.handleTransitionBug(ctx, callToolReq("bugflow_transition_bug", map[string]any{"bug_id": b.ID, "status": "in_progress"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "user_id")
	})

	t.Run("unknown user", func(t *testing.T) {
		result, err := srv.handleTransitionBug(ctx, callToolReq("bugflow_transition_bug", map[string]any{"bug_id": b.ID, "status": "in_progress", "user_id": "ghost"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "unknown user")
	})

	t.Run("forbidden", func(t *testing.T) {
		result, err := srv.handleTransitionBug(ctx, callToolReq("bugflow_transition_bug", map[string]any{"bug_id": b.ID, "status": "in_progress", "user_id": "client"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "forbidden")
	})

	t.Run("allowed", func(t *testing.T) {
		result, err := srv.handleTransitionBug(ctx, callToolReq("bugflow_transition_bug", map[string]any{
			"bug_id": b.ID, "status": "in_progress", "user_id": "dev", "notes": "starting",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))
		var out bugOut
		resultJSON(t, result, &out)
		assert.Equal(t, "in_progress", out.Status)
	})

	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "starting", *entries[0].Description)
}

func TestHandleAssignQA(t *testing.T) {
	srv, _, e := newTestServer(t)
	ctx := context.Background()
	b := seedBug(t, e, "needs QA")

	result, err := srv.handleAssignQA(ctx, callToolReq("bugflow_assign_qa", map[string]any{"bug_id": b.ID, "qa_user_id": "42", "user_id": "tester"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleAssignQA(ctx, callToolReq("bugflow_assign_qa", map[string]any{"bug_id": b.ID, "qa_user_id": "42", "user_id": "dev"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out bugOut
	resultJSON(t, result, &out)
	require.NotNil(t, out.QAAssigneeID)
	assert.Equal(t, "42", *out.QAAssigneeID)

	result, err = srv.handleBugHistory(ctx, callToolReq("bugflow_bug_history", map[string]any{"bug_id": b.ID}))
	require.NoError(t, err)
	var history []historyOut
	resultJSON(t, result, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "QA_ASSIGNED", history[0].Action)
	assert.Equal(t, "Quinn QA", *history[0].NewValue)
	assert.Equal(t, "None", *history[0].OldValue)
}

func TestHandleBlockUnblock(t *testing.T) {
	srv, _, e := newTestServer(t)
	ctx := context.Background()
	root := seedBug(t, e, "root")
	child := seedBug(t, e, "child")

	result, err := srv.handleBlockBug(ctx, callToolReq("bugflow_block_bug", map[string]any{"bug_id": child.ID, "blocked_by_bug_id": root.ID, "user_id": "viewer"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "forbidden")

	result, err = srv.handleBlockBug(ctx, callToolReq("bugflow_block_bug", map[string]any{"bug_id": child.ID, "blocked_by_bug_id": "missing", "user_id": "dev"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	result, err = srv.handleBlockBug(ctx, callToolReq("bugflow_block_bug", map[string]any{"bug_id": child.ID, "blocked_by_bug_id": root.ID, "user_id": "dev"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out bugOut
	resultJSON(t, result, &out)
	assert.True(t, out.IsBlocking)
	assert.Equal(t, root.ID, *out.BlockedByBugID)

	result, err = srv.handleListBugs(ctx, callToolReq("bugflow_list_bugs", map[string]any{"blocked": true}))
	require.NoError(t, err)
	var blocked []bugOut
	resultJSON(t, result, &blocked)
	require.Len(t, blocked, 1)

	result, err = srv.handleUnblockBug(ctx, callToolReq("bugflow_unblock_bug", map[string]any{"bug_id": child.ID, "user_id": "client", "reason": "done"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	resultJSON(t, result, &out)
	assert.False(t, out.IsBlocking)
	assert.Nil(t, out.BlockedByBugID)
}

func TestHandleAllowedTransitions(t *testing.T) {
	srv, _, e := newTestServer(t)
	b := seedBug(t, e, "hints")

	result, err := srv.handleAllowedTransitions(context.Background(), callToolReq("bugflow_allowed_transitions", map[string]any{"bug_id": b.ID, "user_id": "dev"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Status  string   `json:"status"`
		Role    string   `json:"role"`
		Targets []string `json:"targets"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "open", out.Status)
	assert.Equal(t, "developer", out.Role)
	assert.Equal(t, []string{"in_progress"}, out.Targets)
}
