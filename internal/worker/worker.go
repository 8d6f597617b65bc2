// Package worker provides the executor pool the run loop dispatches to.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/aristath/goalflow/internal/task"
)

// Executor executes a single task snapshot and returns its result.
// Implementations are supplied by the embedding application: a
// subprocess, an HTTP call, or any function.
type Executor interface {
	Execute(ctx context.Context, snap task.Snapshot) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, snap task.Snapshot) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, snap task.Snapshot) (string, error) {
	return f(ctx, snap)
}

// Worker is an ephemeral executor registration: an executor plus the
// capabilities it declares and the number of tasks it may run at once.
type Worker struct {
	ID           string
	Capabilities []string
	Capacity     int64

	exec     Executor
	sem      *semaphore.Weighted
	inflight atomic.Int64
}

// New creates a worker. Capacity below 1 is raised to 1.
func New(id string, capabilities []string, capacity int64, exec Executor) *Worker {
	if capacity < 1 {
		capacity = 1
	}
	return &Worker{
		ID:           id,
		Capabilities: append([]string(nil), capabilities...),
		Capacity:     capacity,
		exec:         exec,
		sem:          semaphore.NewWeighted(capacity),
	}
}

// Can reports whether the worker declares the given capability.
func (w *Worker) Can(role string) bool {
	for _, c := range w.Capabilities {
		if c == role {
			return true
		}
	}
	return false
}

// Free returns the number of unoccupied slots.
func (w *Worker) Free() int64 {
	return w.Capacity - w.inflight.Load()
}

// Execute runs a snapshot, blocking while the worker is at capacity.
func (w *Worker) Execute(ctx context.Context, snap task.Snapshot) (string, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("worker %q: %w", w.ID, err)
	}
	defer w.sem.Release(1)

	w.inflight.Add(1)
	defer w.inflight.Add(-1)

	return w.exec.Execute(ctx, snap)
}
