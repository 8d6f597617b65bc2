package runner

import "fmt"

// BlockedError is recorded on a task that can never run because an
// upstream dependency failed permanently. Dependents are blocked
// explicitly, never silently run with missing inputs and never silently
// skipped.
type BlockedError struct {
	TaskID   string // The blocked task
	Upstream string // The permanently failed dependency
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("task %s blocked: upstream dependency %s failed permanently", e.TaskID, e.Upstream)
}
