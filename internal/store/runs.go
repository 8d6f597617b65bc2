package store

import (
	"context"
	"fmt"
	"time"
)

// Attempt is one recorded execution attempt of a task.
type Attempt struct {
	TaskID   string
	Attempt  int
	Error    string
	Duration time.Duration
	At       time.Time
}

// Run is a persisted summary of one scheduler run.
type Run struct {
	ID          string
	Fingerprint string
	Policy      string
	Completed   int
	Failed      int
	Blocked     int
	Cancelled   int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RecordAttempt appends an attempt to the task's execution history.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (task_id, attempt, error, duration_ms)
		VALUES (?, ?, ?, ?)
	`, a.TaskID, a.Attempt, a.Error, a.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record attempt for task %s: %w", a.TaskID, err)
	}
	return nil
}

// Attempts returns the recorded execution history of a task, oldest
// first.
func (s *SQLiteStore) Attempts(ctx context.Context, taskID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, attempt, error, duration_ms, at
		FROM attempts
		WHERE task_id = ?
		ORDER BY at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var durationMs int64
		if err := rows.Scan(&a.TaskID, &a.Attempt, &a.Error, &durationMs, &a.At); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// SaveRun records the summary of a finished run.
func (s *SQLiteStore) SaveRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, fingerprint, policy, completed, failed, blocked, cancelled, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Fingerprint, r.Policy, r.Completed, r.Failed, r.Blocked, r.Cancelled, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// Runs returns recorded runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, policy, completed, failed, blocked, cancelled, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Policy, &r.Completed, &r.Failed, &r.Blocked, &r.Cancelled, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
