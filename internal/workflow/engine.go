// Package workflow executes bug status transitions, QA assignment and
// block/unblock under the role policy, recording one audit entry per change.
//
// Every mutating operation loads the bug, authorizes, mutates, persists and
// audits inside a single transaction from the injected TxRunner, so a failed
// check or collaborator call leaves neither a mutation nor an entry behind.
// The engine holds no state between calls and never logs or retries.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/bugflow/internal/audit"
	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
)

var (
	// ErrNotFound means a referenced bug does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid means the request itself is malformed.
	ErrInvalid = errors.New("invalid request")
)

// noneName is rendered into audit values when a user reference is empty or unknown.
const noneName = "None"

// UserLookup resolves display names for audit values.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Repository is the bug, history and user storage one transaction sees.
// User lookups go through the same transaction so a single-connection store
// never waits on itself.
type Repository interface {
	CreateBug(ctx context.Context, bug *models.Bug) error
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	UpdateBug(ctx context.Context, bug *models.Bug) error
	audit.Store
	UserLookup
}

// TxRunner runs fn with a Repository bound to one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}

// Actor is the identified user performing an operation.
type Actor struct {
	UserID string
	Role   models.Role
}

// ActorFrom builds an Actor from a stored user.
func ActorFrom(u *models.User) Actor {
	return Actor{UserID: u.ID, Role: u.Role}
}

// Engine is the bug workflow service.
type Engine struct {
	tx    TxRunner
	clock clock.Clock
}

// NewEngine creates an Engine.
func NewEngine(tx TxRunner, c clock.Clock) *Engine {
	return &Engine{tx: tx, clock: c}
}

type storeRunner struct {
	s store.Store
}

// NewStoreRunner adapts a store.Store into a TxRunner.
func NewStoreRunner(s store.Store) TxRunner {
	return &storeRunner{s: s}
}

func (r *storeRunner) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	return r.s.WithTx(ctx, func(tx store.Store) error {
		return fn(tx)
	})
}

// mutate runs fn in a transaction and returns the bug it produced.
func (e *Engine) mutate(ctx context.Context, actor Actor, fn func(repo Repository, rec *audit.Recorder) (*models.Bug, error)) (*models.Bug, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("%w: acting user is required", ErrInvalid)
	}

	var out *models.Bug
	err := e.tx.WithTx(ctx, func(repo Repository) error {
		bug, err := fn(repo, audit.NewRecorder(repo, e.clock))
		if err != nil {
			return err
		}
		out = bug
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadBug maps a missing bug to ErrNotFound and passes other errors through unchanged.
func loadBug(ctx context.Context, repo Repository, id string) (*models.Bug, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: bug id is required", ErrInvalid)
	}
	bug, err := repo.GetBug(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: bug %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return bug, nil
}

// displayName resolves a user to their name, or "None" when unset or unknown.
func displayName(ctx context.Context, users UserLookup, id *string) (string, error) {
	if id == nil || *id == "" {
		return noneName, nil
	}
	u, err := users.GetUser(ctx, *id)
	if errors.Is(err, store.ErrNotFound) {
		return noneName, nil
	}
	if err != nil {
		return "", err
	}
	if u.Name == "" {
		return noneName, nil
	}
	return u.Name, nil
}

func orDefault(v, def string) *string {
	if v == "" {
		return &def
	}
	return &v
}

// CreateBug stores a new bug in status open, reported by actor, and records
// a CREATED entry. Workflow fields on the input are ignored.
func (e *Engine) CreateBug(ctx context.Context, bug *models.Bug, actor Actor) (*models.Bug, error) {
	if bug == nil || bug.Title == "" {
		return nil, fmt.Errorf("%w: bug title is required", ErrInvalid)
	}
	if actor.Role == models.RoleViewer {
		return nil, fmt.Errorf("%w: role %s cannot report bugs", ErrForbidden, actor.Role)
	}

	return e.mutate(ctx, actor, func(repo Repository, rec *audit.Recorder) (*models.Bug, error) {
		b := *bug
		b.ID = ""
		b.Status = models.BugStatusOpen
		b.ReporterID = actor.UserID
		b.QAAssigneeID = nil
		b.IsBlocking = false
		b.BlockedByBugID = nil
		b.ResolvedAt = nil
		b.ClosedAt = nil
		b.CreatedAt = e.clock.Now()
		if b.Priority == "" {
			b.Priority = models.BugPriorityMedium
		}
		if b.Severity == "" {
			b.Severity = models.BugSeverityMajor
		}
		if b.Type == "" {
			b.Type = models.BugTypeBug
		}

		if err := repo.CreateBug(ctx, &b); err != nil {
			return nil, err
		}
		if _, err := rec.Record(ctx, audit.Entry{
			BugID:       b.ID,
			UserID:      actor.UserID,
			Action:      models.HistoryActionCreated,
			NewValue:    audit.Value(string(b.Status)),
			Description: audit.Value("Bug created: " + b.Title),
		}); err != nil {
			return nil, err
		}
		return &b, nil
	})
}

// TransitionStatus moves a bug to target if the actor's role allows it from
// the bug's current status. Entering resolved or closed stamps ResolvedAt or
// ClosedAt; leaving them keeps the stamp as a historical marker.
func (e *Engine) TransitionStatus(ctx context.Context, bugID string, target models.BugStatus, actor Actor, notes string) (*models.Bug, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, target)
	}

	return e.mutate(ctx, actor, func(repo Repository, rec *audit.Recorder) (*models.Bug, error) {
		bug, err := loadBug(ctx, repo, bugID)
		if err != nil {
			return nil, err
		}

		from := bug.Status
		if !policy.CanTransition(actor.Role, from, target) {
			return nil, fmt.Errorf("%w: role %s cannot transition bug from %s to %s", ErrForbidden, actor.Role, from, target)
		}

		now := e.clock.Now()
		bug.Status = target
		switch target {
		case models.BugStatusResolved:
			bug.ResolvedAt = &now
		case models.BugStatusClosed:
			bug.ClosedAt = &now
		}

		if err := repo.UpdateBug(ctx, bug); err != nil {
			return nil, err
		}
		if _, err := rec.Record(ctx, audit.Entry{
			BugID:       bug.ID,
			UserID:      actor.UserID,
			Action:      models.HistoryActionStatusChanged,
			OldValue:    audit.Value(string(from)),
			NewValue:    audit.Value(string(target)),
			Description: orDefault(notes, fmt.Sprintf("Status changed from %s to %s", from, target)),
		}); err != nil {
			return nil, err
		}
		return bug, nil
	})
}

// canAssignQA lists the roles allowed to pick a bug's QA assignee.
func canAssignQA(role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RoleProjectManager, models.RoleDeveloper:
		return true
	}
	return false
}

// AssignQA sets the bug's QA assignee, replacing any previous one.
func (e *Engine) AssignQA(ctx context.Context, bugID, qaUserID string, actor Actor) (*models.Bug, error) {
	if qaUserID == "" {
		return nil, fmt.Errorf("%w: qa user id is required", ErrInvalid)
	}

	return e.mutate(ctx, actor, func(repo Repository, rec *audit.Recorder) (*models.Bug, error) {
		bug, err := loadBug(ctx, repo, bugID)
		if err != nil {
			return nil, err
		}
		if !canAssignQA(actor.Role) {
			return nil, fmt.Errorf("%w: role %s cannot assign QA", ErrForbidden, actor.Role)
		}

		oldName, err := displayName(ctx, repo, bug.QAAssigneeID)
		if err != nil {
			return nil, err
		}
		newName, err := displayName(ctx, repo, &qaUserID)
		if err != nil {
			return nil, err
		}

		bug.QAAssigneeID = &qaUserID
		if err := repo.UpdateBug(ctx, bug); err != nil {
			return nil, err
		}
		if _, err := rec.Record(ctx, audit.Entry{
			BugID:       bug.ID,
			UserID:      actor.UserID,
			Action:      models.HistoryActionQAAssigned,
			OldValue:    audit.Value(oldName),
			NewValue:    audit.Value(newName),
			Description: audit.Value(fmt.Sprintf("QA assignee changed from %s to %s", oldName, newName)),
		}); err != nil {
			return nil, err
		}
		return bug, nil
	})
}

// BlockBug marks bugID as blocked by blockedByBugID. Both bugs must exist.
// Viewers are read-only and may not block.
func (e *Engine) BlockBug(ctx context.Context, bugID, blockedByBugID string, actor Actor, reason string) (*models.Bug, error) {
	if blockedByBugID == "" {
		return nil, fmt.Errorf("%w: blocking bug id is required", ErrInvalid)
	}
	if bugID == blockedByBugID {
		return nil, fmt.Errorf("%w: bug %s cannot block itself", ErrInvalid, bugID)
	}

	return e.mutate(ctx, actor, func(repo Repository, rec *audit.Recorder) (*models.Bug, error) {
		bug, err := loadBug(ctx, repo, bugID)
		if err != nil {
			return nil, err
		}
		blocker, err := loadBug(ctx, repo, blockedByBugID)
		if err != nil {
			return nil, err
		}
		if actor.Role == models.RoleViewer {
			return nil, fmt.Errorf("%w: role %s cannot block bugs", ErrForbidden, actor.Role)
		}

		bug.IsBlocking = true
		bug.BlockedByBugID = &blocker.ID
		if err := repo.UpdateBug(ctx, bug); err != nil {
			return nil, err
		}
		if _, err := rec.Record(ctx, audit.Entry{
			BugID:       bug.ID,
			UserID:      actor.UserID,
			Action:      models.HistoryActionBlocked,
			OldValue:    audit.Value("false"),
			NewValue:    audit.Value(blocker.Ref()),
			Description: orDefault(reason, "Blocked by "+blocker.Ref()),
		}); err != nil {
			return nil, err
		}
		return bug, nil
	})
}

// UnblockBug clears the bug's blocking relationship.
func (e *Engine) UnblockBug(ctx context.Context, bugID string, actor Actor, reason string) (*models.Bug, error) {
	return e.mutate(ctx, actor, func(repo Repository, rec *audit.Recorder) (*models.Bug, error) {
		bug, err := loadBug(ctx, repo, bugID)
		if err != nil {
			return nil, err
		}
		if actor.Role == models.RoleViewer {
			return nil, fmt.Errorf("%w: role %s cannot unblock bugs", ErrForbidden, actor.Role)
		}

		previous := noneName
		if bug.BlockedByBugID != nil {
			previous = models.BugRef(*bug.BlockedByBugID)
		}

		bug.IsBlocking = false
		bug.BlockedByBugID = nil
		if err := repo.UpdateBug(ctx, bug); err != nil {
			return nil, err
		}
		if _, err := rec.Record(ctx, audit.Entry{
			BugID:       bug.ID,
			UserID:      actor.UserID,
			Action:      models.HistoryActionUnblocked,
			OldValue:    audit.Value(previous),
			NewValue:    audit.Value("false"),
			Description: orDefault(reason, "Unblocked from "+previous),
		}); err != nil {
			return nil, err
		}
		return bug, nil
	})
}

// GetHistory returns the bug's audit trail, newest first.
func (e *Engine) GetHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error) {
	var entries []*models.HistoryEntry
	err := e.tx.WithTx(ctx, func(repo Repository) error {
		if _, err := loadBug(ctx, repo, bugID); err != nil {
			return err
		}
		var err error
		entries, err = audit.NewRecorder(repo, e.clock).FindByBug(ctx, bugID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AvailableTransitions returns the statuses actor may move the bug into next.
func (e *Engine) AvailableTransitions(ctx context.Context, bugID string, actor Actor) ([]models.BugStatus, error) {
	var targets []models.BugStatus
	err := e.tx.WithTx(ctx, func(repo Repository) error {
		bug, err := loadBug(ctx, repo, bugID)
		if err != nil {
			return err
		}
		targets = policy.AllowedTargets(actor.Role, bug.Status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}
