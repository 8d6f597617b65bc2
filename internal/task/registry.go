package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a task ID does not exist in the registry.
var ErrNotFound = errors.New("task not found")

// ErrFinalized is returned when an update targets a task already in a
// terminal status. Late results from cancelled tasks hit this and are
// discarded by the caller.
var ErrFinalized = errors.New("task already finalized")

// Registry is the injected repository holding all tasks of a run.
// MemoryRegistry serves embedding and tests; store.SQLiteStore is the
// persistent implementation. The run loop is the only component that
// calls UpdateStatus.
type Registry interface {
	// Add stores a new task, assigning its creation sequence number.
	// Fails if the ID already exists.
	Add(ctx context.Context, t *Task) error

	// Get returns a copy of the task with the given ID.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns copies of all tasks in creation order.
	List(ctx context.Context) ([]*Task, error)

	// UpdateStatus transitions a task, attaching result or error.
	// Transitions out of a terminal status return ErrFinalized.
	UpdateStatus(ctx context.Context, id string, status Status, result string, taskErr error) error

	// Close releases any underlying resources.
	Close() error
}

// MemoryRegistry is the in-memory Registry implementation.
type MemoryRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	seq   int
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tasks: make(map[string]*Task)}
}

// Add stores a new task. Returns an error if the ID already exists.
func (r *MemoryRegistry) Add(ctx context.Context, t *Task) error {
	if t.ID == "" {
		return errors.New("task ID must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", t.ID)
	}

	cp := t.Clone()
	cp.Seq = r.seq
	r.seq++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.tasks[cp.ID] = cp

	// Report the assigned sequence back to the caller.
	t.Seq = cp.Seq
	t.CreatedAt = cp.CreatedAt
	return nil
}

// Get returns a copy of the task with the given ID.
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// List returns copies of all tasks ordered by creation sequence.
func (r *MemoryRegistry) List(ctx context.Context) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, nil
}

// UpdateStatus transitions a task. Terminal tasks reject further updates.
func (r *MemoryRegistry) UpdateStatus(ctx context.Context, id string, status Status, result string, taskErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrFinalized, id, t.Status)
	}

	t.Status = status
	if result != "" {
		t.Result = result
	}
	if taskErr != nil {
		t.Err = taskErr
	}
	return nil
}

// Close is a no-op for the in-memory registry.
func (r *MemoryRegistry) Close() error { return nil }
