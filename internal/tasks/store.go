// Package tasks stores the user's to-do list in SQLite.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"

	StatusPending = "pending"
	StatusDone    = "done"
	StatusAll     = "all"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrAlreadyDone = errors.New("task already completed")
)

type Task struct {
	ID          int64
	Title       string
	Priority    string
	Status      string
	Due         *time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (creating if needed) the task database at dbPath. ":memory:" is
// accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'medium',
			status TEXT NOT NULL DEFAULT 'pending',
			due TEXT,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ValidPriority reports whether p is one of low, medium or high.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (s *Store) Add(ctx context.Context, title, priority string, due *time.Time) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, errors.New("task title is empty")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return Task{}, fmt.Errorf("invalid priority %q", priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, priority, status, due, created_at) VALUES (?, ?, ?, ?, ?)`,
		title, priority, StatusPending, formatTime(due), created.Format(time.RFC3339Nano))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return Task{ID: id, Title: title, Priority: priority, Status: StatusPending, Due: due, CreatedAt: created}, nil
}

// List returns tasks with the given status (pending, done or all), highest
// priority first and oldest first within a priority.
func (s *Store) List(ctx context.Context, status string) ([]Task, error) {
	if status == "" {
		status = StatusPending
	}
	query := `SELECT id, title, priority, status, due, created_at, completed_at FROM tasks`
	var args []any
	switch status {
	case StatusAll:
	case StatusPending, StatusDone:
		query += ` WHERE status = ?`
		args = append(args, status)
	default:
		return nil, fmt.Errorf("invalid status %q", status)
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, id`

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (s *Store) Complete(ctx context.Context, id int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, priority, status, due, created_at, completed_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	if err != nil {
		return Task{}, err
	}
	if t.Status == StatusDone {
		return t, fmt.Errorf("%w: #%d", ErrAlreadyDone, id)
	}

	done := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		StatusDone, done.Format(time.RFC3339Nano), id); err != nil {
		return Task{}, fmt.Errorf("complete task: %w", err)
	}
	t.Status = StatusDone
	t.CompletedAt = &done
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (Task, error) {
	var (
		t         Task
		due       sql.NullString
		created   string
		completed sql.NullString
	)
	if err := sc.Scan(&t.ID, &t.Title, &t.Priority, &t.Status, &due, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.Due = parseTime(due)
	t.CompletedAt = parseTime(completed)
	return t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
