package events

import (
	"time"

	"github.com/aristath/goalflow/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskRetry     = "task.retry"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskBlocked   = "task.blocked"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeRunProgress   = "run.progress"
	EventTypeWaveStarted   = "run.wave"
)

// TaskQueuedEvent is published when a task is handed to the dispatcher.
type TaskQueuedEvent struct {
	ID        string
	Wave      int
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a task begins an execution attempt.
type TaskStartedEvent struct {
	ID        string
	Role      string
	WorkerID  string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskRetryEvent is published when an attempt failed but the retry
// budget is not yet exhausted.
type TaskRetryEvent struct {
	ID        string
	Attempt   int
	Err       error
	Timestamp time.Time
}

func (e TaskRetryEvent) EventType() string { return EventTypeTaskRetry }
func (e TaskRetryEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Result    string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task exhausts its retry budget.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskBlockedEvent is published when a task is blocked by an upstream
// permanent failure and will never be dispatched.
type TaskBlockedEvent struct {
	ID        string
	Upstream  string // The failed task that caused the block
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled.
type TaskCancelledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// WaveStartedEvent is published when the run loop begins a wave.
type WaveStartedEvent struct {
	Wave      int
	Size      int
	Timestamp time.Time
}

func (e WaveStartedEvent) EventType() string { return EventTypeWaveStarted }
func (e WaveStartedEvent) TaskID() string    { return "" }

// RunProgressEvent is published whenever run-level counts change.
type RunProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Blocked   int
	Cancelled int
	Pending   int
	Wave      int
	Waves     int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() string    { return "" }

// ProgressFrom builds a RunProgressEvent from a task list.
func ProgressFrom(tasks []*task.Task, wave, waves int) RunProgressEvent {
	ev := RunProgressEvent{Total: len(tasks), Wave: wave, Waves: waves, Timestamp: time.Now()}
	for _, t := range tasks {
		switch t.Status {
		case task.StatusCompleted:
			ev.Completed++
		case task.StatusRunning, task.StatusQueued:
			ev.Running++
		case task.StatusFailed:
			ev.Failed++
		case task.StatusBlocked:
			ev.Blocked++
		case task.StatusCancelled:
			ev.Cancelled++
		default:
			ev.Pending++
		}
	}
	return ev
}
