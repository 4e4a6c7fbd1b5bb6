// Package audit appends and reads a bug's immutable history entries.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
)

// Store is the history persistence the recorder writes through.
type Store interface {
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	ListHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error)
}

// Entry describes a change to record. Nil pointers are stored as NULL.
type Entry struct {
	BugID       string
	UserID      string
	Action      models.HistoryAction
	OldValue    *string
	NewValue    *string
	Description *string
}

// Recorder stamps entries with the injected clock and appends them.
type Recorder struct {
	store Store
	clock clock.Clock
}

// NewRecorder creates a Recorder over s.
func NewRecorder(s Store, c clock.Clock) *Recorder {
	return &Recorder{store: s, clock: c}
}

// Record appends a new entry and returns it. Existing entries are never touched.
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		BugID:       e.BugID,
		UserID:      e.UserID,
		Action:      e.Action,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		Description: e.Description,
		CreatedAt:   r.clock.Now(),
	}
	if err := r.store.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("record %s for bug %s: %w", e.Action, e.BugID, err)
	}
	return entry, nil
}

// FindByBug returns the bug's entries newest first. Ties on CreatedAt fall
// back to ID, which is a ULID and therefore creation-ordered.
func (r *Recorder) FindByBug(ctx context.Context, bugID string) ([]*models.HistoryEntry, error) {
	entries, err := r.store.ListHistory(ctx, bugID)
	if err != nil {
		return nil, fmt.Errorf("history for bug %s: %w", bugID, err)
	}

	out := make([]*models.HistoryEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Value returns a pointer to v, for building Entry fields inline.
func Value(v string) *string { return &v }
