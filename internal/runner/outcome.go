package runner

import (
	"time"

	"github.com/aristath/goalflow/internal/task"
)

// TaskResult is the recorded outcome of one task within a run.
type TaskResult struct {
	TaskID   string
	Status   task.Status
	Result   string
	Err      error
	Attempts int
	Wave     int
	Duration time.Duration
}

// Outcome is the run-level result: every task's result in plan order,
// plus counts. A run with failures still produces an Outcome unless the
// runner is configured fail-fast and aborted early.
type Outcome struct {
	Results         []TaskResult // In plan (topological) order
	Completed       int
	Failed          int
	Blocked         int
	Cancelled       int
	Pending         int
	Duration        time.Duration
	PlanFingerprint uint64
}

// Failures returns the results of permanently failed tasks.
func (o *Outcome) Failures() []TaskResult {
	var out []TaskResult
	for _, r := range o.Results {
		if r.Status == task.StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded reports whether every task completed.
func (o *Outcome) Succeeded() bool {
	return o.Completed == len(o.Results)
}

func (o *Outcome) count(r TaskResult) {
	switch r.Status {
	case task.StatusCompleted:
		o.Completed++
	case task.StatusFailed:
		o.Failed++
	case task.StatusBlocked:
		o.Blocked++
	case task.StatusCancelled:
		o.Cancelled++
	default:
		o.Pending++
	}
}
