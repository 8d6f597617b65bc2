package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/goalflow/internal/task"
)

// terminalStatuses is the SQL fragment guarding terminal tasks against
// further updates.
const terminalStatuses = "(3, 4, 5, 6)" // completed, failed, cancelled, blocked

// Add stores a new task and its dependency edges, assigning the
// creation sequence number. Dependency edges may reference tasks not
// inserted yet; they are validated at plan construction, not here.
func (s *SQLiteStore) Add(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		return errors.New("task ID must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM tasks`).Scan(&seq); err != nil {
		return fmt.Errorf("failed to assign sequence: %w", err)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, description, role, priority, retries, resources, status, result, error, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)
	`, t.ID, t.Description, t.Role, t.Priority, t.Retries, strings.Join(t.Resources, ","), int(t.Status), seq, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}

	for _, depID := range t.DependsOn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, t.ID, depID); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.Seq = seq
	t.CreatedAt = createdAt
	return nil
}

// Get retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*task.Task, error) {
	t := &task.Task{}
	var status int
	var resources, errorStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, role, priority, retries, resources, status, result, error, seq, created_at
		FROM tasks
		WHERE id = ?
	`, id).Scan(&t.ID, &t.Description, &t.Role, &t.Priority, &t.Retries, &resources, &status, &t.Result, &errorStr, &t.Seq, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	t.Status = task.Status(status)
	if resources != "" {
		t.Resources = strings.Split(resources, ",")
	}
	if errorStr != "" {
		t.Err = errors.New(errorStr)
	}

	deps, err := s.loadDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	t.DependsOn = deps
	return t, nil
}

// List returns all tasks with their dependencies, in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, role, priority, retries, resources, status, result, error, seq, created_at
		FROM tasks
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t := &task.Task{}
		var status int
		var resources, errorStr string
		if err := rows.Scan(&t.ID, &t.Description, &t.Role, &t.Priority, &t.Retries, &resources, &status, &t.Result, &errorStr, &t.Seq, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Status = task.Status(status)
		if resources != "" {
			t.Resources = strings.Split(resources, ",")
		}
		if errorStr != "" {
			t.Err = errors.New(errorStr)
		}

		deps, err := s.loadDependencies(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.DependsOn = deps
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus transitions a task. Terminal tasks reject updates with
// task.ErrFinalized, which is how late results of cancelled tasks get
// discarded.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status task.Status, result string, taskErr error) error {
	errorStr := ""
	if taskErr != nil {
		errorStr = taskErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?,
		    result = CASE WHEN ? != '' THEN ? ELSE result END,
		    error = CASE WHEN ? != '' THEN ? ELSE error END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status NOT IN `+terminalStatuses+`
	`, int(status), result, result, errorStr, errorStr, id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing task from a finalized one.
		var current int
		err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", task.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to query task status: %w", err)
		}
		return fmt.Errorf("%w: %s is %s", task.ErrFinalized, id, task.Status(current))
	}
	return nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies for task %s: %w", id, err)
	}
	defer rows.Close()

	deps := []string{}
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}
