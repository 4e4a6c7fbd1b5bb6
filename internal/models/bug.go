package models

import (
	"fmt"
	"strings"
	"time"
)

// BugStatus is a workflow state of a bug.
type BugStatus string

const (
	BugStatusOpen       BugStatus = "open"
	BugStatusInProgress BugStatus = "in_progress"
	BugStatusCodeReview BugStatus = "code_review"
	BugStatusQATesting  BugStatus = "qa_testing"
	BugStatusResolved   BugStatus = "resolved"
	BugStatusClosed     BugStatus = "closed"
	BugStatusReopened   BugStatus = "reopened"
	BugStatusRejected   BugStatus = "rejected"
)

// BugStatuses returns every status in workflow order.
func BugStatuses() []BugStatus {
	return []BugStatus{
		BugStatusOpen,
		BugStatusInProgress,
		BugStatusCodeReview,
		BugStatusQATesting,
		BugStatusResolved,
		BugStatusClosed,
		BugStatusReopened,
		BugStatusRejected,
	}
}

// Valid reports whether s is one of the known statuses.
func (s BugStatus) Valid() bool {
	for _, known := range BugStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseBugStatus accepts either wire form ("in_progress") or enum form ("IN_PROGRESS").
func ParseBugStatus(v string) (BugStatus, error) {
	s := BugStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown bug status: %q", v)
	}
	return s, nil
}

// BugPriority represents the urgency of a bug.
type BugPriority string

const (
	BugPriorityLow      BugPriority = "low"
	BugPriorityMedium   BugPriority = "medium"
	BugPriorityHigh     BugPriority = "high"
	BugPriorityCritical BugPriority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p BugPriority) Valid() bool {
	switch p {
	case BugPriorityLow, BugPriorityMedium, BugPriorityHigh, BugPriorityCritical:
		return true
	}
	return false
}

// ParseBugPriority normalizes and validates a priority string.
func ParseBugPriority(v string) (BugPriority, error) {
	p := BugPriority(strings.ToLower(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown bug priority: %q", v)
	}
	return p, nil
}

// BugSeverity represents the impact of a bug.
type BugSeverity string

const (
	BugSeverityMinor    BugSeverity = "minor"
	BugSeverityMajor    BugSeverity = "major"
	BugSeverityCritical BugSeverity = "critical"
	BugSeverityBlocker  BugSeverity = "blocker"
)

func (s BugSeverity) Valid() bool {
	switch s {
	case BugSeverityMinor, BugSeverityMajor, BugSeverityCritical, BugSeverityBlocker:
		return true
	}
	return false
}

// ParseBugSeverity normalizes and validates a severity string.
func ParseBugSeverity(v string) (BugSeverity, error) {
	s := BugSeverity(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown bug severity: %q", v)
	}
	return s, nil
}

// BugType represents the kind of work a bug tracks.
type BugType string

const (
	BugTypeBug         BugType = "bug"
	BugTypeFeature     BugType = "feature"
	BugTypeImprovement BugType = "improvement"
	BugTypeTask        BugType = "task"
)

func (t BugType) Valid() bool {
	switch t {
	case BugTypeBug, BugTypeFeature, BugTypeImprovement, BugTypeTask:
		return true
	}
	return false
}

// ParseBugType normalizes and validates a type string.
func ParseBugType(v string) (BugType, error) {
	t := BugType(strings.ToLower(strings.TrimSpace(v)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown bug type: %q", v)
	}
	return t, nil
}

// Bug is a tracked defect. Priority, Severity and Type are carried for callers;
// the workflow engine never interprets them.
type Bug struct {
	ID             string
	Title          string
	Description    string
	Status         BugStatus
	Priority       BugPriority
	Severity       BugSeverity
	Type           BugType
	ReporterID     string
	QAAssigneeID   *string
	IsBlocking     bool
	BlockedByBugID *string
	Version        int // bumped on every successful update
	ResolvedAt     *time.Time
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ref returns the human-readable reference used in audit entries.
func (b *Bug) Ref() string {
	return BugRef(b.ID)
}

// BugRef formats a bug ID the way audit entries name blocking bugs.
func BugRef(id string) string {
	return "Bug #" + id
}
