// Package runner executes an execution plan over a bounded worker pool.
//
// Dispatch follows the wave model: every task in a wave is dispatched
// concurrently (bounded by the configured limit) and the whole wave is
// awaited before the next begins. Tasks in later waves therefore observe
// every dependency result from earlier waves; tasks within a wave have no
// ordering guarantee relative to each other.
//
// Executors receive immutable snapshots. Only the runner commits
// outcomes back into the registry, so there is exactly one writer per
// task and late results from cancelled tasks are discarded at commit.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/goalflow/internal/events"
	"github.com/aristath/goalflow/internal/plan"
	"github.com/aristath/goalflow/internal/task"
	"github.com/aristath/goalflow/internal/worker"
)

// errFailFast aborts the current wave's errgroup after a permanent
// failure when fail-fast semantics are configured.
var errFailFast = errors.New("permanent task failure with fail-fast configured")

// Config configures a Runner.
type Config struct {
	Concurrency int         // Max concurrent in-flight tasks (default 4)
	Retry       RetryConfig // Backoff between attempts
	FailFast    bool        // First permanent failure cancels the rest of the run
}

// Runner executes plan waves against the worker pool.
type Runner struct {
	cfg      Config
	reg      task.Registry
	pool     *worker.Pool
	locks    *worker.ResourceLocks
	bus      *events.Bus
	breakers *BreakerRegistry
	logger   *zap.Logger
	control  *Control

	mu       sync.Mutex
	attempts map[string]attemptInfo
}

type attemptInfo struct {
	attempts int
	wave     int
	duration time.Duration
}

// New creates a runner. bus and logger may be nil.
func New(cfg Config, reg task.Registry, pool *worker.Pool, bus *events.Bus, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		reg:      reg,
		pool:     pool,
		locks:    worker.NewResourceLocks(),
		bus:      bus,
		breakers: NewBreakerRegistry(logger),
		logger:   logger,
		control:  newControl(cfg.Concurrency * 2),
		attempts: make(map[string]attemptInfo),
	}
}

// Run builds a plan over the registry's tasks, narrowed to ids when
// given, and executes it wave by wave. Narrowing keeps tasks persisted
// by earlier runs out of the plan and the outcome. Plan validation
// errors (cycles, unknown dependencies) abort before anything is
// dispatched. A single task's failure never aborts the run unless
// fail-fast is configured; its dependents are blocked and everything
// else proceeds.
func (r *Runner) Run(ctx context.Context, ids ...string) (*Outcome, error) {
	start := time.Now()

	tasks, err := r.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		tasks, err = selectTasks(tasks, ids)
		if err != nil {
			return nil, err
		}
	}
	p, err := plan.Build(tasks)
	if err != nil {
		return nil, err
	}

	// Cancel the control handler, then wait for it to drain (LIFO defers).
	controlCtx, stopControl := context.WithCancel(ctx)
	r.control.start(controlCtx, r)
	defer r.control.stop()
	defer stopControl()

	waves := len(p.Waves)
	for waveIdx, ids := range p.Waves {
		if err := ctx.Err(); err != nil {
			return r.outcome(p, start), err
		}

		// Re-check each task: cancellations and blocks landed since the
		// plan was built drop tasks from their wave.
		batch := make([]*task.Task, 0, len(ids))
		for _, id := range ids {
			t, err := r.reg.Get(ctx, id)
			if err != nil {
				return r.outcome(p, start), err
			}
			if t.Status == task.StatusPending {
				batch = append(batch, t)
			}
		}
		if len(batch) == 0 {
			continue
		}

		r.publish(events.TopicRun, events.WaveStartedEvent{Wave: waveIdx, Size: len(batch), Timestamp: time.Now()})
		r.logger.Info("wave starting", zap.Int("wave", waveIdx), zap.Int("tasks", len(batch)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, t := range batch {
			t := t
			if err := r.reg.UpdateStatus(ctx, t.ID, task.StatusQueued, "", nil); err != nil {
				// Finalized in the meantime (cancelled); skip.
				continue
			}
			r.publish(events.TopicTask, events.TaskQueuedEvent{ID: t.ID, Wave: waveIdx, Timestamp: time.Now()})
			g.Go(func() error {
				return r.runTask(gctx, p, t, waveIdx)
			})
		}

		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return r.outcome(p, start), ctx.Err()
			}
			if errors.Is(err, errFailFast) {
				r.cancelRemaining(p)
				break
			}
			return r.outcome(p, start), err
		}

		r.publishProgress(p, waveIdx, waves)
	}

	return r.outcome(p, start), nil
}

// selectTasks narrows a registry listing to the given ids, preserving
// listing order. Every requested id must exist.
func selectTasks(tasks []*task.Task, ids []string) ([]*task.Task, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	out := make([]*task.Task, 0, len(ids))
	for _, t := range tasks {
		if want[t.ID] {
			out = append(out, t)
			delete(want, t.ID)
		}
	}
	for id := range want {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	return out, nil
}

// runTask executes one task: gather upstream input, match a worker, run
// with retry, and commit the outcome. Task-level failures are committed
// to the registry, not returned; the only non-nil return is the
// fail-fast abort.
func (r *Runner) runTask(ctx context.Context, p *plan.Plan, t *task.Task, wave int) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		r.commitCancelled(t.ID, err)
		return nil
	}

	// A cancellation may have landed between dispatch and here.
	cur, err := r.reg.Get(ctx, t.ID)
	if err != nil || cur.Status != task.StatusQueued {
		return nil
	}

	input, err := r.gatherInput(ctx, p, t)
	if err != nil {
		r.finishFailed(t, wave, 0, time.Since(start), err)
		if r.cfg.FailFast {
			return errFailFast
		}
		return nil
	}

	w, err := r.pool.Match(t.Role)
	if err != nil {
		// No capable worker is permanent; retrying cannot help.
		r.finishFailed(t, wave, 0, time.Since(start), err)
		if r.cfg.FailFast {
			return errFailFast
		}
		return nil
	}

	if err := r.reg.UpdateStatus(ctx, t.ID, task.StatusRunning, "", nil); err != nil {
		return nil
	}

	snap := task.SnapshotOf(t, input)

	r.locks.LockAll(t.Resources)
	result, attempts, execErr := r.executeWithRetry(ctx, w, snap, t.Retries)
	r.locks.UnlockAll(t.Resources)

	elapsed := time.Since(start)
	if execErr != nil {
		if ctx.Err() != nil || errors.Is(execErr, context.Canceled) {
			r.commitCancelled(t.ID, execErr)
			r.record(t.ID, attemptInfo{attempts: attempts, wave: wave, duration: elapsed})
			return nil
		}
		r.finishFailed(t, wave, attempts, elapsed, execErr)
		if r.cfg.FailFast {
			return errFailFast
		}
		return nil
	}

	if err := r.reg.UpdateStatus(context.WithoutCancel(ctx), t.ID, task.StatusCompleted, result, nil); err != nil {
		if errors.Is(err, task.ErrFinalized) {
			// The task was cancelled while running; discard the late result.
			r.logger.Info("late result discarded", zap.String("task", t.ID))
			r.record(t.ID, attemptInfo{attempts: attempts, wave: wave, duration: elapsed})
			return nil
		}
		return err
	}

	r.record(t.ID, attemptInfo{attempts: attempts, wave: wave, duration: elapsed})
	r.publish(events.TopicTask, events.TaskCompletedEvent{
		ID:        t.ID,
		Result:    result,
		Attempts:  attempts,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
	r.logger.Info("task completed",
		zap.String("task", t.ID),
		zap.Int("attempts", attempts),
		zap.Duration("duration", elapsed))
	return nil
}

// gatherInput concatenates the results of a task's dependencies in plan
// order. Dependencies are guaranteed completed: a permanently failed
// dependency blocks this task before it is ever dispatched.
func (r *Runner) gatherInput(ctx context.Context, p *plan.Plan, t *task.Task) (string, error) {
	if len(t.DependsOn) == 0 {
		return "", nil
	}

	pos := make(map[string]int, len(p.Order))
	for i, id := range p.Order {
		pos[id] = i
	}
	deps := append([]string(nil), t.DependsOn...)
	for i := 0; i < len(deps); i++ {
		for j := i + 1; j < len(deps); j++ {
			if pos[deps[j]] < pos[deps[i]] {
				deps[i], deps[j] = deps[j], deps[i]
			}
		}
	}

	parts := make([]string, 0, len(deps))
	for _, depID := range deps {
		dep, err := r.reg.Get(ctx, depID)
		if err != nil {
			return "", err
		}
		if dep.Result != "" {
			parts = append(parts, dep.Result)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// finishFailed commits a permanent failure and blocks all transitive
// dependents still waiting on it.
func (r *Runner) finishFailed(t *task.Task, wave, attempts int, elapsed time.Duration, cause error) {
	ctx := context.Background()

	if err := r.reg.UpdateStatus(ctx, t.ID, task.StatusFailed, "", cause); err != nil {
		if !errors.Is(err, task.ErrFinalized) {
			r.logger.Error("failed to commit task failure", zap.String("task", t.ID), zap.Error(err))
		}
		return
	}
	r.record(t.ID, attemptInfo{attempts: attempts, wave: wave, duration: elapsed})
	r.publish(events.TopicTask, events.TaskFailedEvent{
		ID:        t.ID,
		Err:       cause,
		Attempts:  attempts,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
	r.logger.Warn("task failed permanently",
		zap.String("task", t.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	r.blockDependents(ctx, t.ID)
}

// blockDependents marks every transitive dependent of a permanently
// failed task as blocked. Blocked tasks are never dispatched.
func (r *Runner) blockDependents(ctx context.Context, failedID string) {
	tasks, err := r.reg.List(ctx)
	if err != nil {
		r.logger.Error("failed to list tasks for block propagation", zap.Error(err))
		return
	}

	dependents := make(map[string][]string)
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}

	seen := map[string]bool{failedID: true}
	queue := []string{failedID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range dependents[id] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			queue = append(queue, depID)

			blockErr := &BlockedError{TaskID: depID, Upstream: failedID}
			if err := r.reg.UpdateStatus(ctx, depID, task.StatusBlocked, "", blockErr); err != nil {
				// Already finalized (completed earlier, or cancelled).
				continue
			}
			r.publish(events.TopicTask, events.TaskBlockedEvent{
				ID:        depID,
				Upstream:  failedID,
				Timestamp: time.Now(),
			})
			r.logger.Warn("task blocked", zap.String("task", depID), zap.String("upstream", failedID))
		}
	}
}

// cancelRemaining cancels every still-pending task after a fail-fast abort.
func (r *Runner) cancelRemaining(p *plan.Plan) {
	ctx := context.Background()
	for _, id := range p.Order {
		t, err := r.reg.Get(ctx, id)
		if err != nil || t.Status.Terminal() || t.Status == task.StatusRunning {
			continue
		}
		if err := r.reg.UpdateStatus(ctx, id, task.StatusCancelled, "", context.Canceled); err == nil {
			r.publish(events.TopicTask, events.TaskCancelledEvent{ID: id, Timestamp: time.Now()})
		}
	}
}

// commitCancelled finalizes a task as cancelled, tolerating a task that
// was already finalized by the control channel.
func (r *Runner) commitCancelled(id string, cause error) {
	if err := r.reg.UpdateStatus(context.Background(), id, task.StatusCancelled, "", cause); err != nil {
		if !errors.Is(err, task.ErrFinalized) {
			r.logger.Error("failed to commit cancellation", zap.String("task", id), zap.Error(err))
		}
	}
}

// outcome assembles the run outcome from registry state and recorded
// attempt bookkeeping, in plan order.
func (r *Runner) outcome(p *plan.Plan, start time.Time) *Outcome {
	ctx := context.Background()
	o := &Outcome{
		Results:         make([]TaskResult, 0, len(p.Order)),
		Duration:        time.Since(start),
		PlanFingerprint: p.Fingerprint(),
	}

	r.mu.Lock()
	attempts := make(map[string]attemptInfo, len(r.attempts))
	for id, info := range r.attempts {
		attempts[id] = info
	}
	r.mu.Unlock()

	for _, id := range p.Order {
		t, err := r.reg.Get(ctx, id)
		if err != nil {
			continue
		}
		res := TaskResult{
			TaskID: t.ID,
			Status: t.Status,
			Result: t.Result,
			Err:    t.Err,
			Wave:   p.WaveOf(t.ID),
		}
		if info, ok := attempts[id]; ok {
			res.Attempts = info.attempts
			res.Duration = info.duration
		}
		o.Results = append(o.Results, res)
		o.count(res)
	}
	return o
}

func (r *Runner) record(id string, info attemptInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[id] = info
}

func (r *Runner) publish(topic string, ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(topic, ev)
	}
}

// publishProgress reports counts over the planned tasks only, so stored
// tasks outside this run never skew the totals.
func (r *Runner) publishProgress(p *plan.Plan, wave, waves int) {
	if r.bus == nil {
		return
	}
	ctx := context.Background()
	tasks := make([]*task.Task, 0, len(p.Order))
	for _, id := range p.Order {
		t, err := r.reg.Get(ctx, id)
		if err != nil {
			return
		}
		tasks = append(tasks, t)
	}
	r.publish(events.TopicRun, events.ProgressFrom(tasks, wave, waves))
}
