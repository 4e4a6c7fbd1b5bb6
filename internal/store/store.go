package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/bugflow/internal/models"
)

var (
	// ErrNotFound is wrapped by every lookup that finds no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by UpdateBug when the stored version moved on.
	ErrConflict = errors.New("version conflict")
)

// BugListFilter specifies filters for listing bugs.
type BugListFilter struct {
	Status       models.BugStatus
	Priority     models.BugPriority
	Severity     models.BugSeverity
	QAAssigneeID string
	BlockedOnly  bool
}

// Store defines the persistence interface for bugflow.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Bugs
	CreateBug(ctx context.Context, bug *models.Bug) error
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
	UpdateBug(ctx context.Context, bug *models.Bug) error

	// History
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	ListHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error)

	// WithTx runs fn against a Store bound to one transaction. The transaction
	// commits if fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// BugFinder is the lookup FindBug needs.
type BugFinder interface {
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
}

// FindBug finds a bug by full ID or unique ID prefix.
func FindBug(ctx context.Context, s BugFinder, ref string) (*models.Bug, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty bug id: %w", ErrNotFound)
	}
	bug, err := s.GetBug(ctx, ref)
	if err == nil {
		return bug, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	upper := strings.ToUpper(ref)
	bugs, err := s.ListBugs(ctx, BugListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Bug
	for _, b := range bugs {
		if strings.HasPrefix(strings.ToUpper(b.ID), upper) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("bug %s: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous bug ID %s: matches %d bugs", ref, len(matches))
	}
}
