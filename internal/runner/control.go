package runner

import (
	"context"
	"time"

	"github.com/aristath/goalflow/internal/events"
	"github.com/aristath/goalflow/internal/task"
)

// cancelRequest asks the run loop to cancel one task. Replies travel
// back over a per-request channel, so there is no listener registration
// to race against: a request sent is a request answered.
type cancelRequest struct {
	taskID     string
	responseCh chan cancelReply
}

type cancelReply struct {
	status task.Status
	err    error
}

// Control carries cancellation requests into the run loop.
type Control struct {
	requestCh chan cancelRequest
	done      chan struct{}
}

// newControl creates a control channel. bufferSize should be at least
// the concurrency limit so callers rarely block.
func newControl(bufferSize int) *Control {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Control{
		requestCh: make(chan cancelRequest, bufferSize),
		done:      make(chan struct{}),
	}
}

// start launches the request handler. It runs until ctx is cancelled.
func (c *Control) start(ctx context.Context, r *Runner) {
	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-c.requestCh:
				req.responseCh <- r.applyCancel(ctx, req.taskID)
			}
		}
	}()
}

// stop blocks until the handler goroutine has exited.
func (c *Control) stop() {
	<-c.done
}

// applyCancel performs the actual cancellation against the registry.
// Pending tasks are cancelled immediately and dropped from future waves.
// Running tasks are marked cancelled best-effort: the in-flight executor
// call may still finish, but its late result is discarded at commit.
func (r *Runner) applyCancel(ctx context.Context, taskID string) cancelReply {
	t, err := r.reg.Get(ctx, taskID)
	if err != nil {
		return cancelReply{err: err}
	}
	if t.Status.Terminal() {
		// Nothing to cancel; report the status the task finished with.
		return cancelReply{status: t.Status}
	}

	if err := r.reg.UpdateStatus(ctx, taskID, task.StatusCancelled, "", context.Canceled); err != nil {
		return cancelReply{err: err}
	}
	r.publish(events.TopicTask, events.TaskCancelledEvent{ID: taskID, Timestamp: time.Now()})
	return cancelReply{status: task.StatusCancelled}
}

// Cancel requests cancellation of a task and waits for the disposition.
// The returned status is the task's status after the request was applied:
// StatusCancelled on success, or the terminal status the task had already
// reached.
func (r *Runner) Cancel(ctx context.Context, taskID string) (task.Status, error) {
	responseCh := make(chan cancelReply, 1)

	select {
	case r.control.requestCh <- cancelRequest{taskID: taskID, responseCh: responseCh}:
	case <-ctx.Done():
		return task.StatusPending, ctx.Err()
	}

	select {
	case reply := <-responseCh:
		return reply.status, reply.err
	case <-ctx.Done():
		return task.StatusPending, ctx.Err()
	}
}
