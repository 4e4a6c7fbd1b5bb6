package cmd

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// resetBugFlags clears the package-level flag values between tests.
func resetBugFlags(t *testing.T) {
	t.Helper()
	bugTitle, bugDesc, bugPriority, bugSeverity, bugType = "", "", "", "", ""
	bugStatus, bugQA, bugNotes, bugReason = "", "", "", ""
	bugBlocked, bugAuto = false, false
	t.Cleanup(func() {
		bugTitle, bugDesc, bugPriority, bugSeverity, bugType = "", "", "", "", ""
		bugStatus, bugQA, bugNotes, bugReason = "", "", "", ""
		bugBlocked, bugAuto = false, false
	})
}

// seedUsers creates one user per role, keyed by role name.
func seedUsers(t *testing.T) store.Store {
	t.Helper()
	s, err := getStore()
	require.NoError(t, err)
	for _, u := range []*models.User{
		{ID: "admin", Name: "Ada Admin", Role: models.RoleAdmin},
		{ID: "dev", Name: "Dana Dev", Role: models.RoleDeveloper},
		{ID: "qa", Name: "Quinn QA", Role: models.RoleQA},
		{ID: "client", Name: "Casey Client", Role: models.RoleClient},
		{ID: "viewer", Name: "Vic Viewer", Role: models.RoleViewer},
	} {
		require.NoError(t, s.CreateUser(context.Background(), u))
	}
	return s
}

// addBug reports a bug as the given user through the CLI path.
func addBug(t *testing.T, as, title string) *models.Bug {
	t.Helper()
	viper.Set("actor", as)
	bugTitle = title
	require.NoError(t, bugAddRun())
	bugTitle = ""

	bugs, err := dataStore.ListBugs(context.Background(), store.BugListFilter{})
	require.NoError(t, err)
	for _, b := range bugs {
		if b.Title == title {
			return b
		}
	}
	t.Fatalf("bug %q not stored", title)
	return nil
}

func TestBugAddRun_RequiresActor(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	bugTitle = "No one reported this"
	err := bugAddRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no acting user")

	viper.Set("actor", "ghost")
	err = bugAddRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown user ghost")
}

func TestBugAddRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	bugDesc = "Stack trace attached"
	bugSeverity = "minor"
	b := addBug(t, "dev", "Save button misaligned")

	assert.Equal(t, models.BugStatusOpen, b.Status)
	assert.Equal(t, "dev", b.ReporterID)
	assert.Equal(t, models.BugPriorityMedium, b.Priority)
	assert.Equal(t, models.BugSeverityMinor, b.Severity)
	assert.Equal(t, "Stack trace attached", b.Description)
	assert.Contains(t, stdout(t), "Reported bug")

	history, err := dataStore.ListHistory(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryActionCreated, history[0].Action)
}

func TestBugAddRun_AutoTriage(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	bugAuto = true
	bugPriority = "low"
	b := addBug(t, "qa", "App crashes on save")

	assert.Equal(t, models.BugTypeBug, b.Type)
	assert.Equal(t, models.BugSeverityCritical, b.Severity)
	assert.Equal(t, models.BugPriorityLow, b.Priority, "explicit flag wins over suggestion")
}

func TestBugAddRun_Errors(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	viper.Set("actor", "viewer")
	bugTitle = "Read-only report"
	err := bugAddRun()
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	viper.Set("actor", "dev")
	bugPriority = "urgent"
	err = bugAddRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")
}

func TestBugAddRun_DryRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	s := seedUsers(t)

	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	viper.Set("actor", "dev")
	bugTitle = "Not stored"
	require.NoError(t, bugAddRun())

	bugs, err := s.ListBugs(context.Background(), store.BugListFilter{})
	require.NoError(t, err)
	assert.Empty(t, bugs)
}

func TestBugListRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	require.NoError(t, bugListRun())
	assert.Contains(t, stdout(t), "No bugs found")

	addBug(t, "dev", "First bug")
	closed := addBug(t, "dev", "Second bug")
	viper.Set("actor", "admin")
	require.NoError(t, bugTransitionRun(closed.ID, "closed"))

	bugStatus = "closed"
	require.NoError(t, bugListRun())
	out := stdout(t)
	assert.Contains(t, out, "Second bug")
	assert.Contains(t, out, "closed")

	bugStatus = "done"
	assert.Error(t, bugListRun())
}

func TestBugShowRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	b := addBug(t, "client", "Login page blank")
	viper.Set("actor", "dev")

	require.NoError(t, bugShowRun(b.ID[:10]))
	out := stdout(t)
	assert.Contains(t, out, "Login page blank")
	assert.Contains(t, out, "Casey Client (client)")
	assert.Contains(t, out, "Next (developer): in_progress")
	assert.Contains(t, out, b.ID)

	assert.ErrorIs(t, bugShowRun("zzz"), store.ErrNotFound)
}

func TestBugTransitionRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)
	ctx := context.Background()

	b := addBug(t, "dev", "Flow")

	viper.Set("actor", "client")
	err := bugTransitionRun(b.ID, "in_progress")
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	viper.Set("actor", "dev")
	assert.Error(t, bugTransitionRun(b.ID, "done"))

	bugNotes = "picking this up"
	require.NoError(t, bugTransitionRun(b.ID, "IN_PROGRESS"))
	assert.Contains(t, stdout(t), "Moved")

	got, err := dataStore.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusInProgress, got.Status)

	history, err := dataStore.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "picking this up", *history[0].Description)
}

func TestBugTransitionRun_DryRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	b := addBug(t, "dev", "Stays open")
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	require.NoError(t, bugTransitionRun(b.ID, "in_progress"))
	assert.Contains(t, stderr(t), "Would move")
	assert.NotContains(t, stderr(t), "forbidden")

	resetOutput(t)
	viper.Set("actor", "client")
	require.NoError(t, bugTransitionRun(b.ID, "in_progress"))
	assert.Contains(t, stderr(t), "Would be forbidden: role client cannot move")
	assert.NotContains(t, stderr(t), "Would move")

	got, err := dataStore.GetBug(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusOpen, got.Status)

	history, err := dataStore.ListHistory(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBugListRun_IDsResolve(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	first := addBug(t, "dev", "Same millisecond one")
	second := addBug(t, "dev", "Same millisecond two")

	resetOutput(t)
	require.NoError(t, bugListRun())
	out := stdout(t)
	assert.Contains(t, out, first.ID)
	assert.Contains(t, out, second.ID)

	for _, b := range []*models.Bug{first, second} {
		found, err := store.FindBug(context.Background(), dataStore, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, found.ID)
	}
}

func TestBugAssignQARun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	b := addBug(t, "dev", "Needs QA")

	viper.Set("actor", "qa")
	assert.ErrorIs(t, bugAssignQARun(b.ID, "qa"), workflow.ErrForbidden)

	viper.Set("actor", "dev")
	require.NoError(t, bugAssignQARun(b.ID, "qa"))

	got, err := dataStore.GetBug(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QAAssigneeID)
	assert.Equal(t, "qa", *got.QAAssigneeID)

	require.NoError(t, bugShowRun(b.ID))
	assert.Contains(t, stdout(t), "Quinn QA (qa)")
}

func TestBugBlockUnblockRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)
	ctx := context.Background()

	root := addBug(t, "dev", "Root cause")
	child := addBug(t, "dev", "Symptom")

	viper.Set("actor", "viewer")
	assert.ErrorIs(t, bugBlockRun(child.ID, root.ID), workflow.ErrForbidden)

	viper.Set("actor", "dev")
	assert.ErrorIs(t, bugBlockRun(child.ID, "missing"), store.ErrNotFound)
	assert.ErrorIs(t, bugBlockRun(child.ID, child.ID), workflow.ErrInvalid)

	bugReason = "waiting on root"
	require.NoError(t, bugBlockRun(child.ID, root.ID))
	got, err := dataStore.GetBug(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocking)
	require.NotNil(t, got.BlockedByBugID)
	assert.Equal(t, root.ID, *got.BlockedByBugID)

	bugBlocked = true
	resetOutput(t)
	require.NoError(t, bugListRun())
	out := stdout(t)
	assert.Contains(t, out, "Symptom")
	assert.NotContains(t, out, "Root cause")

	bugReason = ""
	require.NoError(t, bugUnblockRun(child.ID))
	got, err = dataStore.GetBug(ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocking)
	assert.Nil(t, got.BlockedByBugID)

	history, err := dataStore.ListHistory(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.HistoryActionUnblocked, history[0].Action)
	assert.Equal(t, "Unblocked from Bug #"+root.ID, *history[0].Description)
	assert.Equal(t, "waiting on root", *history[1].Description)
}

func TestBugHistoryRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	b := addBug(t, "dev", "Audited")
	require.NoError(t, bugTransitionRun(b.ID, "in_progress"))

	require.NoError(t, bugHistoryRun(b.ID))
	out := stdout(t)
	assert.Contains(t, out, "CREATED")
	assert.Contains(t, out, "STATUS_CHANGED")
	assert.Contains(t, out, "in_progress")

	assert.ErrorIs(t, bugHistoryRun("nope"), store.ErrNotFound)
}

func TestBugTriageRun(t *testing.T) {
	testEnv(t)
	resetBugFlags(t)
	seedUsers(t)

	b := addBug(t, "dev", "Production down after deploy")
	require.NoError(t, bugTriageRun(b.ID))

	out := stdout(t)
	assert.Contains(t, out, "critical (now medium)")
	assert.Contains(t, out, "blocker (now major)")
}

func TestDeref(t *testing.T) {
	assert.Equal(t, "-", deref(nil))
	v := "x"
	assert.Equal(t, "x", deref(&v))
}
