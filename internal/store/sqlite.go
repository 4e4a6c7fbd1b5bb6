package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bugflow/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
	q  querier
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// all access, so concurrent API requests queue instead of hitting "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new monotonic ULID string.
func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.q.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.q.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single transaction. Nested calls reuse the outer one.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLiteStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	var role string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, email, role, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = models.Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Bugs ---

const bugColumns = `id, title, description, status, priority, severity, type, reporter_id,
	qa_assignee_id, is_blocking, blocked_by_bug_id, version, resolved_at, closed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (*models.Bug, error) {
	bug := &models.Bug{}
	var status, priority, severity, bugType string
	var qaAssignee, blockedBy sql.NullString
	var resolvedAt, closedAt sql.NullTime

	if err := row.Scan(&bug.ID, &bug.Title, &bug.Description, &status, &priority, &severity, &bugType, &bug.ReporterID,
		&qaAssignee, &bug.IsBlocking, &blockedBy, &bug.Version, &resolvedAt, &closedAt, &bug.CreatedAt, &bug.UpdatedAt); err != nil {
		return nil, err
	}

	bug.Status = models.BugStatus(status)
	bug.Priority = models.BugPriority(priority)
	bug.Severity = models.BugSeverity(severity)
	bug.Type = models.BugType(bugType)
	if qaAssignee.Valid {
		bug.QAAssigneeID = &qaAssignee.String
	}
	if blockedBy.Valid {
		bug.BlockedByBugID = &blockedBy.String
	}
	if resolvedAt.Valid {
		bug.ResolvedAt = &resolvedAt.Time
	}
	if closedAt.Valid {
		bug.ClosedAt = &closedAt.Time
	}
	return bug, nil
}

func (s *SQLiteStore) CreateBug(ctx context.Context, bug *models.Bug) error {
	if bug.ID == "" {
		bug.ID = newULID()
	}
	now := time.Now().UTC()
	if bug.CreatedAt.IsZero() {
		bug.CreatedAt = now
	}
	bug.UpdatedAt = bug.CreatedAt
	bug.Version = 1

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO bugs (`+bugColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bug.ID, bug.Title, bug.Description, string(bug.Status), string(bug.Priority), string(bug.Severity), string(bug.Type), bug.ReporterID,
		bug.QAAssigneeID, boolToInt(bug.IsBlocking), bug.BlockedByBugID, bug.Version, bug.ResolvedAt, bug.ClosedAt, bug.CreatedAt, bug.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bug: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	bug, err := scanBug(s.q.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bug %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	return bug, nil
}

func (s *SQLiteStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.QAAssigneeID != "" {
		conditions = append(conditions, "qa_assignee_id = ?")
		args = append(args, filter.QAAssigneeID)
	}
	if filter.BlockedOnly {
		conditions = append(conditions, "is_blocking = 1")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE status WHEN 'open' THEN 0 WHEN 'reopened' THEN 1 WHEN 'in_progress' THEN 2 WHEN 'code_review' THEN 3
			WHEN 'qa_testing' THEN 4 WHEN 'resolved' THEN 5 WHEN 'closed' THEN 6 WHEN 'rejected' THEN 7 ELSE 8 END,
		CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
		created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bugs []*models.Bug
	for rows.Next() {
		bug, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, bug)
	}
	return bugs, rows.Err()
}

// UpdateBug writes bug if its Version still matches the stored row, then bumps
// Version. A stale Version yields ErrConflict.
func (s *SQLiteStore) UpdateBug(ctx context.Context, bug *models.Bug) error {
	updatedAt := time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`UPDATE bugs SET title=?, description=?, status=?, priority=?, severity=?, type=?, reporter_id=?,
			qa_assignee_id=?, is_blocking=?, blocked_by_bug_id=?, resolved_at=?, closed_at=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		bug.Title, bug.Description, string(bug.Status), string(bug.Priority), string(bug.Severity), string(bug.Type), bug.ReporterID,
		bug.QAAssigneeID, boolToInt(bug.IsBlocking), bug.BlockedByBugID, bug.ResolvedAt, bug.ClosedAt, updatedAt,
		bug.ID, bug.Version,
	)
	if err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	if err := s.checkUpdated(ctx, result, bug); err != nil {
		return err
	}
	bug.Version++
	bug.UpdatedAt = updatedAt
	return nil
}

// checkUpdated maps an UPDATE that touched no row to ErrNotFound or ErrConflict.
func (s *SQLiteStore) checkUpdated(ctx context.Context, result sql.Result, bug *models.Bug) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bug %s: rows affected: %w", bug.ID, err)
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM bugs WHERE id = ?", bug.ID).Scan(&count); err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("bug %s: %w", bug.ID, ErrNotFound)
	}
	return fmt.Errorf("bug %s at version %d: %w", bug.ID, bug.Version, ErrConflict)
}

// --- History ---

func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newULID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO bug_history (id, bug_id, user_id, action, old_value, new_value, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BugID, entry.UserID, string(entry.Action),
		entry.OldValue, entry.NewValue, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns a bug's entries newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, bug_id, user_id, action, old_value, new_value, description, created_at
		FROM bug_history WHERE bug_id = ? ORDER BY created_at DESC, id DESC`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		var action string
		var oldValue, newValue, description sql.NullString
		if err := rows.Scan(&e.ID, &e.BugID, &e.UserID, &action, &oldValue, &newValue, &description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Action = models.HistoryAction(action)
		e.OldValue = nullStringPtr(oldValue)
		e.NewValue = nullStringPtr(newValue)
		e.Description = nullStringPtr(description)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
