package models

import "time"

// HistoryAction names the kind of change an audit entry records.
type HistoryAction string

const (
	HistoryActionCreated             HistoryAction = "CREATED"
	HistoryActionStatusChanged       HistoryAction = "STATUS_CHANGED"
	HistoryActionAssigned            HistoryAction = "ASSIGNED"
	HistoryActionPriorityChanged     HistoryAction = "PRIORITY_CHANGED"
	HistoryActionSeverityChanged     HistoryAction = "SEVERITY_CHANGED"
	HistoryActionCommented           HistoryAction = "COMMENTED"
	HistoryActionAttachmentAdded     HistoryAction = "ATTACHMENT_ADDED"
	HistoryActionResolved            HistoryAction = "RESOLVED"
	HistoryActionClosed              HistoryAction = "CLOSED"
	HistoryActionReopened            HistoryAction = "REOPENED"
	HistoryActionQAAssigned          HistoryAction = "QA_ASSIGNED"
	HistoryActionCodeReviewRequested HistoryAction = "CODE_REVIEW_REQUESTED"
	HistoryActionBlocked             HistoryAction = "BLOCKED"
	HistoryActionUnblocked           HistoryAction = "UNBLOCKED"
)

// HistoryEntry is one immutable row of a bug's audit trail.
type HistoryEntry struct {
	ID          string
	BugID       string
	UserID      string
	Action      HistoryAction
	OldValue    *string
	NewValue    *string
	Description *string
	CreatedAt   time.Time
}
