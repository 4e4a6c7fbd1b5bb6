// Package policy holds the role-gated transition table for bug statuses.
//
// Developers push work forward into review and QA but cannot certify it;
// QA and testers certify or bounce work back; clients may only reopen a closed
// bug; viewers are read-only. Admins and project managers bypass the table.
package policy

import (
	"slices"

	"github.com/joescharf/bugflow/internal/models"
)

// Bypasses reports whether role skips the transition table entirely.
func Bypasses(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleProjectManager
}

// AllowedTargets returns the statuses role may move a bug into directly from
// the given status. It never fails: disallowed or unknown pairs yield nil.
func AllowedTargets(role models.Role, from models.BugStatus) []models.BugStatus {
	if !from.Valid() {
		return nil
	}
	if Bypasses(role) {
		return models.BugStatuses()
	}

	switch role {
	case models.RoleDeveloper:
		return developerTargets(from)
	case models.RoleQA, models.RoleTester:
		return qaTargets(from)
	case models.RoleClient:
		return clientTargets(from)
	case models.RoleViewer:
		return nil
	default:
		return nil
	}
}

// CanTransition reports whether role may move a bug from one status to another.
func CanTransition(role models.Role, from, to models.BugStatus) bool {
	return slices.Contains(AllowedTargets(role, from), to)
}

// Matrix expands the whole table, keyed by role then source status.
// Empty cells are omitted.
func Matrix() map[models.Role]map[models.BugStatus][]models.BugStatus {
	m := make(map[models.Role]map[models.BugStatus][]models.BugStatus, len(models.Roles()))
	for _, role := range models.Roles() {
		row := make(map[models.BugStatus][]models.BugStatus)
		for _, from := range models.BugStatuses() {
			if targets := AllowedTargets(role, from); len(targets) > 0 {
				row[from] = targets
			}
		}
		m[role] = row
	}
	return m
}

func developerTargets(from models.BugStatus) []models.BugStatus {
	switch from {
	case models.BugStatusOpen:
		return []models.BugStatus{models.BugStatusInProgress}
	case models.BugStatusInProgress:
		return []models.BugStatus{models.BugStatusCodeReview, models.BugStatusResolved}
	case models.BugStatusCodeReview:
		return []models.BugStatus{models.BugStatusInProgress, models.BugStatusQATesting}
	case models.BugStatusQATesting, models.BugStatusResolved, models.BugStatusClosed:
		return nil
	case models.BugStatusReopened, models.BugStatusRejected:
		return []models.BugStatus{models.BugStatusInProgress}
	}
	return nil
}

func qaTargets(from models.BugStatus) []models.BugStatus {
	switch from {
	case models.BugStatusOpen, models.BugStatusInProgress:
		return nil
	case models.BugStatusCodeReview:
		return []models.BugStatus{models.BugStatusQATesting}
	case models.BugStatusQATesting:
		return []models.BugStatus{models.BugStatusResolved, models.BugStatusReopened}
	case models.BugStatusResolved:
		return []models.BugStatus{models.BugStatusClosed, models.BugStatusReopened}
	case models.BugStatusClosed:
		return []models.BugStatus{models.BugStatusReopened}
	case models.BugStatusReopened, models.BugStatusRejected:
		return nil
	}
	return nil
}

func clientTargets(from models.BugStatus) []models.BugStatus {
	if from == models.BugStatusClosed {
		return []models.BugStatus{models.BugStatusReopened}
	}
	return nil
}
