package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/models"
)

func resetUserFlags(t *testing.T) {
	t.Helper()
	userID, userName, userEmail, userRole = "", "", "", "developer"
	t.Cleanup(func() { userID, userName, userEmail, userRole = "", "", "", "developer" })
}

func TestUserAddRun(t *testing.T) {
	testEnv(t)
	resetUserFlags(t)

	userID = "42"
	userName = "Quinn QA"
	userEmail = "quinn@example.com"
	userRole = "QA"
	require.NoError(t, userAddRun())
	assert.Contains(t, stdout(t), "Added user")

	u, err := dataStore.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Quinn QA", u.Name)
	assert.Equal(t, models.RoleQA, u.Role)
	assert.Equal(t, "quinn@example.com", u.Email)
}

func TestUserAddRun_GeneratesID(t *testing.T) {
	testEnv(t)
	resetUserFlags(t)

	userName = "Dana Dev"
	require.NoError(t, userAddRun())

	users, err := dataStore.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Len(t, users[0].ID, 26)
	assert.Equal(t, models.RoleDeveloper, users[0].Role)
}

func TestUserAddRun_Errors(t *testing.T) {
	testEnv(t)
	resetUserFlags(t)

	userName = "Someone"
	userRole = "owner"
	assert.Error(t, userAddRun())

	userRole = "viewer"
	userName = ""
	assert.Error(t, userAddRun())
}

func TestUserAddRun_DryRun(t *testing.T) {
	testEnv(t)
	resetUserFlags(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	userName = "Ghost"
	require.NoError(t, userAddRun())
	assert.Nil(t, dataStore, "dry run should not open the database")
}

func TestUserListRun(t *testing.T) {
	testEnv(t)
	resetUserFlags(t)

	require.NoError(t, userListRun())
	assert.Contains(t, stdout(t), "No users found")

	seedUsers(t)
	require.NoError(t, userListRun())
	out := stdout(t)
	assert.Contains(t, out, "Casey Client")
	assert.Contains(t, out, "viewer")
}
