package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/models"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		text string
		want models.BugType
	}{
		{"Fix the migration script", models.BugTypeBug},
		{"Checkout page crash on submit", models.BugTypeBug},
		{"Search not working for quoted terms", models.BugTypeBug},
		{"Hotfix", models.BugTypeBug},
		{"Add dark mode", models.BugTypeFeature},
		{"Support for SSO via Okta", models.BugTypeFeature},
		{"Improve dashboard load time", models.BugTypeImprovement},
		{"Refactor billing module", models.BugTypeTask},
		{"Upgrade Go toolchain", models.BugTypeTask},
		{"Something odd on the profile page", models.BugTypeBug},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyType(tt.text))
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		text string
		want models.BugPriority
	}{
		{"Production down after deploy", models.BugPriorityCritical},
		{"Security: token leaked in logs", models.BugPriorityCritical},
		{"URGENT: invoices not sending", models.BugPriorityHigh},
		{"App crash on launch", models.BugPriorityHigh},
		{"Typo in footer", models.BugPriorityLow},
		{"Cosmetic misalignment on settings", models.BugPriorityLow},
		{"Export includes wrong column", models.BugPriorityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPriority(tt.text))
		})
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		text string
		want models.BugSeverity
	}{
		{"Users cannot log in", models.BugSeverityBlocker},
		{"Outage in EU region", models.BugSeverityBlocker},
		{"Crash when saving draft", models.BugSeverityCritical},
		{"API returns 500 for empty cart", models.BugSeverityCritical},
		{"Typo in footer", models.BugSeverityMinor},
		{"Export includes wrong column", models.BugSeverityMajor},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.text))
		})
	}
}

func TestHeuristic_UsesDescription(t *testing.T) {
	res := Heuristic("Orders page", "The page shows an error and then a crash")
	assert.Equal(t, models.BugTypeBug, res.Type)
	assert.Equal(t, models.BugPriorityHigh, res.Priority)
	assert.Equal(t, models.BugSeverityCritical, res.Severity)
	assert.Empty(t, res.Summary)
}

func TestBuildTriagePrompt(t *testing.T) {
	t.Run("with description", func(t *testing.T) {
		system, user := buildTriagePrompt("Login fails", "Clicking submit does nothing")

		assert.Contains(t, system, "JSON object")
		assert.Contains(t, system, `"severity"`)
		assert.Contains(t, system, `"blocker"`)
		assert.Contains(t, system, `"improvement"`)
		assert.Contains(t, user, "Title: Login fails")
		assert.Contains(t, user, "Clicking submit does nothing")
	})

	t.Run("title only", func(t *testing.T) {
		_, user := buildTriagePrompt("Login fails", "")
		assert.NotContains(t, user, "Description:")
	})
}

func TestParseResult(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		res, err := parseResult(`{"type":"feature","priority":"HIGH","severity":"minor","summary":" Add CSV export. "}`, "x", "")
		require.NoError(t, err)
		assert.Equal(t, models.BugTypeFeature, res.Type)
		assert.Equal(t, models.BugPriorityHigh, res.Priority)
		assert.Equal(t, models.BugSeverityMinor, res.Severity)
		assert.Equal(t, "Add CSV export.", res.Summary)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		res, err := parseResult("```json\n{\"type\":\"bug\",\"priority\":\"low\",\"severity\":\"major\"}\n```", "x", "")
		require.NoError(t, err)
		assert.Equal(t, models.BugPriorityLow, res.Priority)
	})

	t.Run("unknown values fall back to heuristics", func(t *testing.T) {
		res, err := parseResult(`{"type":"chore","priority":"p0","severity":"huge"}`, "Typo in footer", "")
		require.NoError(t, err)
		assert.Equal(t, models.BugTypeBug, res.Type)
		assert.Equal(t, models.BugPriorityLow, res.Priority)
		assert.Equal(t, models.BugSeverityMinor, res.Severity)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := parseResult("not json", "x", "")
		assert.Error(t, err)
	})
}
