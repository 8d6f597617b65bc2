// Package task defines the task model and the registry that holds it.
package task

import (
	"time"
)

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusQueued                  // Handed to the dispatcher, not yet executing
	StatusRunning                 // Currently executing
	StatusCompleted               // Finished successfully
	StatusFailed                  // Retries exhausted
	StatusCancelled               // Cancelled before or during execution
	StatusBlocked                 // An upstream dependency failed permanently
)

// String returns the lowercase name used in logs, events, and storage.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusBlocked:
		return "blocked"
	}
	return "unknown"
}

// Terminal reports whether a task in this status can never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// Task represents a unit of work in a run.
//
// Dependencies are always task IDs, assigned at creation time. Matching
// dependencies against free-text descriptions is ambiguous the moment two
// tasks share text, so it is not supported anywhere in this module.
type Task struct {
	ID          string        // Unique identifier (uuid)
	Description string        // What the task should accomplish
	Role        string        // Capability a worker must declare to run this task
	Priority    int           // Higher runs earlier within a wave
	DependsOn   []string      // Task IDs this task depends on
	Resources   []string      // Exclusive resource keys held during execution
	Retries     int           // Extra attempts after the first (total attempts = Retries+1)
	Estimate    time.Duration // Collaborator's duration estimate, informational
	Status      Status
	Result      string // Output from execution (populated after completion)
	Err         error  // Error if failed or blocked
	Seq         int    // Creation order, assigned by the registry
	CreatedAt   time.Time
}

// Clone returns a deep copy so callers can never mutate registry state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Resources != nil {
		cp.Resources = append([]string(nil), t.Resources...)
	}
	return &cp
}

// Snapshot is the immutable view of a task handed to an executor.
// Executors never see registry state and never commit outcomes; the run
// loop is the single writer for every task.
type Snapshot struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Role        string   `json:"role"`
	Priority    int      `json:"priority"`
	Input       string   `json:"input,omitempty"` // Concatenated upstream results
	Resources   []string `json:"resources,omitempty"`
}

// SnapshotOf builds an executor snapshot from a task and its upstream input.
func SnapshotOf(t *Task, input string) Snapshot {
	return Snapshot{
		ID:          t.ID,
		Description: t.Description,
		Role:        t.Role,
		Priority:    t.Priority,
		Input:       input,
		Resources:   append([]string(nil), t.Resources...),
	}
}
