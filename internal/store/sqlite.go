// Package store provides the SQLite-backed task store. The orchestrator
// consumes it through the core.TaskStore interface; the API layer uses
// the wider CRUD surface.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/taskforge-ai/taskforge/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// FeedbackEntry is one recorded feedback message.
type FeedbackEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Message   string    `json:"message"`
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore implements core.TaskStore on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.TaskStore = (*SQLiteStore)(nil)

// Open opens (or creates) the task database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Create inserts a new task. Missing ID, status, and timestamps are
// filled in.
func (s *SQLiteStore) Create(ctx context.Context, task *core.Task) error {
	if task.ID == "" {
		task.ID = core.TaskID(uuid.NewString())
	}
	if task.Status == "" {
		task.Status = core.TaskStatusBacklog
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := task.Validate(); err != nil {
		return err
	}

	contextFiles, err := json.Marshal(task.ContextFiles)
	if err != nil {
		return fmt.Errorf("encoding context files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, repo_url, target_branch, context_files,
			build_command, status, branch_name, pr_url, error_message,
			spec, plan, agent_kind, model, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.RepoURL, task.TargetBranch,
		string(contextFiles), task.BuildCommand, task.Status, task.BranchName,
		task.PRURL, task.ErrorMessage, task.Spec, task.Plan, task.AgentKind,
		task.Model, task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.ErrState("TASK_EXISTS", fmt.Sprintf("task %s already exists", task.ID))
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetByID fetches a task.
func (s *SQLiteStore) GetByID(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, repo_url, target_branch, context_files,
		       build_command, status, branch_name, pr_url, error_message,
		       spec, plan, agent_kind, model, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return task, nil
}

// List returns all tasks, newest first. status filters when non-empty.
func (s *SQLiteStore) List(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	query := `
		SELECT id, title, description, repo_url, target_branch, context_files,
		       build_command, status, branch_name, pr_url, error_message,
		       spec, plan, agent_kind, model, created_at, updated_at
		FROM tasks`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Update applies a partial update.
func (s *SQLiteStore) Update(ctx context.Context, id core.TaskID, update core.TaskUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.BranchName != nil {
		sets = append(sets, "branch_name = ?")
		args = append(args, *update.BranchName)
	}
	if update.PRURL != nil {
		sets = append(sets, "pr_url = ?")
		args = append(args, *update.PRURL)
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.Plan != nil {
		sets = append(sets, "plan = ?")
		args = append(args, *update.Plan)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound("task", string(id))
	}
	return nil
}

// Delete removes a task and its feedback.
func (s *SQLiteStore) Delete(ctx context.Context, id core.TaskID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound("task", string(id))
	}
	return nil
}

// AppendFeedback records a feedback message as pending.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, id core.TaskID, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO task_feedback (task_id, message) VALUES (?, ?)", id, message)
	if err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}
	return nil
}

// PendingFeedback returns unconsumed feedback in insertion order.
func (s *SQLiteStore) PendingFeedback(ctx context.Context, id core.TaskID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message FROM task_feedback WHERE task_id = ? AND consumed = 0 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearFeedback marks all pending feedback consumed. Rows stay for
// history.
func (s *SQLiteStore) ClearFeedback(ctx context.Context, id core.TaskID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE task_feedback SET consumed = 1 WHERE task_id = ? AND consumed = 0", id)
	if err != nil {
		return fmt.Errorf("clearing feedback: %w", err)
	}
	return nil
}

// FeedbackHistory returns all feedback for a task, oldest first.
func (s *SQLiteStore) FeedbackHistory(ctx context.Context, id core.TaskID) ([]FeedbackEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, message, consumed, created_at
		FROM task_feedback WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("loading feedback history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []FeedbackEntry
	for rows.Next() {
		var e FeedbackEntry
		var consumed int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Message, &consumed, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feedback history: %w", err)
		}
		e.Consumed = consumed != 0
		e.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var task core.Task
	var contextFiles, createdAt, updatedAt string
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.RepoURL,
		&task.TargetBranch, &contextFiles, &task.BuildCommand, &task.Status,
		&task.BranchName, &task.PRURL, &task.ErrorMessage, &task.Spec,
		&task.Plan, &task.AgentKind, &task.Model, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contextFiles), &task.ContextFiles); err != nil {
		return nil, fmt.Errorf("decoding context files: %w", err)
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	task.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &task, nil
}
