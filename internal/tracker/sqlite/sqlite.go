// Package sqlite implements tracker.IssueStore on a local SQLite database.
// It backs offline runs and dry rehearsals of a sync against a real tracker.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

// Event types recorded in the audit trail
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventClosed  = "closed"
)

// Store implements tracker.IssueStore using SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ tracker.IssueStore = (*Store)(nil)

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys for label and comment cascades.
	dsn := "file:" + path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// SearchByLabel returns issues carrying every label in labels.
func (s *Store) SearchByLabel(ctx context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error) {
	if !state.IsValidFilter() {
		return nil, fmt.Errorf("invalid state filter: %s", state)
	}

	var where []string
	var args []any
	if state != types.StateAll {
		where = append(where, "state = ?")
		args = append(args, string(state))
	}
	for _, l := range labels {
		where = append(where, "number IN (SELECT issue_number FROM issue_labels WHERE label = ?)")
		args = append(args, l)
	}
	query := "SELECT number, title, body, state FROM issues"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.TrackerIssue
	byNumber := make(map[int]*types.TrackerIssue)
	for rows.Next() {
		var issue types.TrackerIssue
		var st string
		if err := rows.Scan(&issue.Number, &issue.Title, &issue.Body, &st); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.State = types.IssueState(st)
		issues = append(issues, &issue)
		byNumber[issue.Number] = &issue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	if len(issues) == 0 {
		return nil, nil
	}

	if err := s.loadLabels(ctx, byNumber); err != nil {
		return nil, err
	}
	return issues, nil
}

// loadLabels fills Labels for every issue in byNumber.
func (s *Store) loadLabels(ctx context.Context, byNumber map[int]*types.TrackerIssue) error {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_number, label FROM issue_labels ORDER BY issue_number, label`)
	if err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number int
		var label string
		if err := rows.Scan(&number, &label); err != nil {
			return fmt.Errorf("failed to scan label: %w", err)
		}
		if issue, ok := byNumber[number]; ok {
			issue.Labels = append(issue.Labels, label)
		}
	}
	return rows.Err()
}

// Create inserts an issue with its labels and assignees.
func (s *Store) Create(ctx context.Context, req tracker.CreateRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO issues (title, body, state, created_at, updated_at)
		VALUES (?, ?, 'open', ?, ?)
	`, req.Title, req.Body, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read issue number: %w", err)
	}
	number := int(id)

	if err := setLabels(ctx, tx, number, req.Labels); err != nil {
		return 0, err
	}
	for _, login := range req.Assignees {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO issue_assignees (issue_number, login) VALUES (?, ?)
		`, number, login); err != nil {
			return 0, fmt.Errorf("failed to add assignee: %w", err)
		}
	}
	if err := s.recordEvent(ctx, tx, number, EventCreated, req.Title); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return number, nil
}

// Update applies the non-nil fields of req.
func (s *Store) Update(ctx context.Context, number int, req tracker.UpdateRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := exists(ctx, tx, number); err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.timestamp()}
	var changed []string
	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
		changed = append(changed, "title")
	}
	if req.Body != nil {
		sets = append(sets, "body = ?")
		args = append(args, *req.Body)
		changed = append(changed, "body")
	}
	if req.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*req.State))
		if *req.State == types.StateClosed {
			sets = append(sets, "closed_at = ?")
			args = append(args, s.timestamp())
		} else {
			sets = append(sets, "closed_at = NULL")
		}
		changed = append(changed, "state")
	}
	args = append(args, number)
	if _, err := tx.ExecContext(ctx, "UPDATE issues SET "+strings.Join(sets, ", ")+" WHERE number = ?", args...); err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}

	if req.Labels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_number = ?`, number); err != nil {
			return fmt.Errorf("failed to clear labels: %w", err)
		}
		if err := setLabels(ctx, tx, number, *req.Labels); err != nil {
			return err
		}
		changed = append(changed, "labels")
	}

	if err := s.recordEvent(ctx, tx, number, EventUpdated, strings.Join(changed, ",")); err != nil {
		return err
	}
	return tx.Commit()
}

// CloseWithComment records comment, then closes the issue.
func (s *Store) CloseWithComment(ctx context.Context, number int, comment string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := exists(ctx, tx, number); err != nil {
		return err
	}

	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (issue_number, body, created_at) VALUES (?, ?, ?)
	`, number, comment, now); err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE issues SET state = 'closed', closed_at = ?, updated_at = ? WHERE number = ?
	`, now, now, number); err != nil {
		return fmt.Errorf("failed to close issue: %w", err)
	}
	if err := s.recordEvent(ctx, tx, number, EventClosed, comment); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureLabelsExist creates missing label definitions. Existing ones are
// left alone.
func (s *Store) EnsureLabelsExist(ctx context.Context, defs []types.LabelDef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, def := range defs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO label_defs (name, color, description) VALUES (?, ?, ?)
		`, def.Name, def.Color, def.Description); err != nil {
			return fmt.Errorf("failed to create label %q: %w", def.Name, err)
		}
	}
	return tx.Commit()
}

// Comments returns the comments on an issue, oldest first.
func (s *Store) Comments(ctx context.Context, number int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM comments WHERE issue_number = ? ORDER BY id`, number)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

// LabelDefs returns the defined labels ordered by name.
func (s *Store) LabelDefs(ctx context.Context) ([]types.LabelDef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, color, description FROM label_defs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var out []types.LabelDef
	for rows.Next() {
		var def types.LabelDef
		if err := rows.Scan(&def.Name, &def.Color, &def.Description); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, rows.Err()
}

func exists(ctx context.Context, tx *sql.Tx, number int) error {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT number FROM issues WHERE number = ?`, number).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("issue #%d: %w", number, tracker.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up issue #%d: %w", number, err)
	}
	return nil
}

func setLabels(ctx context.Context, tx *sql.Tx, number int, labels []string) error {
	for _, label := range labels {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO issue_labels (issue_number, label) VALUES (?, ?)
		`, number, label); err != nil {
			return fmt.Errorf("failed to add label %q: %w", label, err)
		}
	}
	return nil
}

func (s *Store) recordEvent(ctx context.Context, tx *sql.Tx, number int, eventType, detail string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (issue_number, event_type, detail, created_at) VALUES (?, ?, ?, ?)
	`, number, eventType, detail, s.timestamp()); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}
