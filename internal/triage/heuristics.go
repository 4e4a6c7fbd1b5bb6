// Package triage suggests a type, priority and severity for a new bug report,
// either from keyword heuristics or from an Anthropic model. It never changes
// workflow state; callers decide whether to apply a suggestion.
package triage

import (
	"strings"

	"github.com/joescharf/bugflow/internal/models"
)

// Result is a triage suggestion for one bug report.
type Result struct {
	Type     models.BugType     `json:"type"`
	Priority models.BugPriority `json:"priority"`
	Severity models.BugSeverity `json:"severity"`
	Summary  string             `json:"summary"`
}

// Heuristic classifies a report from its title and description alone.
func Heuristic(title, description string) Result {
	text := title + "\n" + description
	return Result{
		Type:     ClassifyType(text),
		Priority: ClassifyPriority(text),
		Severity: ClassifySeverity(text),
	}
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyType infers the report type. Defect keywords win over improvement
// and task keywords ("fix the migration" is a bug). Defaults to bug.
func ClassifyType(text string) models.BugType {
	lower := strings.ToLower(text)

	defect := []string{
		"issue with", "not working", "doesn't work", "does not work",
		"fix ", "fix:", "fixed", "fixes", "fixing",
		"bug", "broken", "crash", "error", "exception",
		"regression", "fail", "fault", "defect", "500",
	}
	if containsAny(lower, defect) || strings.HasSuffix(lower, "fix") {
		return models.BugTypeBug
	}

	if containsAny(lower, []string{"add ", "new ", "support for", "allow ", "feature request"}) {
		return models.BugTypeFeature
	}
	if containsAny(lower, []string{"improve", "faster", "slow", "better", "polish", "ux"}) {
		return models.BugTypeImprovement
	}
	if containsAny(lower, []string{"refactor", "cleanup", "clean up", "update dep", "migrate", "upgrade", "rename", "chore", "lint"}) {
		return models.BugTypeTask
	}
	return models.BugTypeBug
}

// ClassifyPriority infers urgency. Defaults to medium.
func ClassifyPriority(text string) models.BugPriority {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, []string{"production down", "outage", "data loss", "security", "p0"}):
		return models.BugPriorityCritical
	case containsAny(lower, []string{"critical", "urgent", "blocker", "crash", "p1"}):
		return models.BugPriorityHigh
	case containsAny(lower, []string{"minor", "nice to have", "cosmetic", "trivial", "low priority", "typo"}):
		return models.BugPriorityLow
	}
	return models.BugPriorityMedium
}

// ClassifySeverity infers impact. Defaults to major.
func ClassifySeverity(text string) models.BugSeverity {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, []string{"blocker", "cannot log in", "can't log in", "production down", "outage", "data loss"}):
		return models.BugSeverityBlocker
	case containsAny(lower, []string{"crash", "security", "corrupt", "500"}):
		return models.BugSeverityCritical
	case containsAny(lower, []string{"cosmetic", "typo", "alignment", "trivial", "minor"}):
		return models.BugSeverityMinor
	}
	return models.BugSeverityMajor
}
