package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBugStatus(t *testing.T) {
	s, err := ParseBugStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, BugStatusInProgress, s)

	s, err = ParseBugStatus(" code_review ")
	require.NoError(t, err)
	assert.Equal(t, BugStatusCodeReview, s)

	_, err = ParseBugStatus("done")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("PROJECT_MANAGER")
	require.NoError(t, err)
	assert.Equal(t, RoleProjectManager, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestBugStatuses_AllValid(t *testing.T) {
	assert.Len(t, BugStatuses(), 8)
	for _, s := range BugStatuses() {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, BugStatus("").Valid())
}

func TestBugRef(t *testing.T) {
	b := &Bug{ID: "01ABC"}
	assert.Equal(t, "Bug #01ABC", b.Ref())
}

func TestParseAttributes(t *testing.T) {
	p, err := ParseBugPriority("High")
	require.NoError(t, err)
	assert.Equal(t, BugPriorityHigh, p)
	_, err = ParseBugPriority("p0")
	assert.Error(t, err)

	s, err := ParseBugSeverity("BLOCKER")
	require.NoError(t, err)
	assert.Equal(t, BugSeverityBlocker, s)
	_, err = ParseBugSeverity("meh")
	assert.Error(t, err)

	ty, err := ParseBugType(" improvement")
	require.NoError(t, err)
	assert.Equal(t, BugTypeImprovement, ty)
	_, err = ParseBugType("chore")
	assert.Error(t, err)
}
