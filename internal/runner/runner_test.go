package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/goalflow/internal/plan"
	"github.com/aristath/goalflow/internal/task"
	"github.com/aristath/goalflow/internal/worker"
)

// fastRetry keeps retry backoff out of test runtime.
func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0.1,
	}
}

// script records executor invocations and routes behavior per task
// description.
type script struct {
	mu     sync.Mutex
	calls  map[string]int    // description -> invocation count
	inputs map[string]string // description -> last snapshot input
	fn     func(ctx context.Context, snap task.Snapshot, call int) (string, error)
}

func newScript(fn func(ctx context.Context, snap task.Snapshot, call int) (string, error)) *script {
	return &script{
		calls:  make(map[string]int),
		inputs: make(map[string]string),
		fn:     fn,
	}
}

func (s *script) Execute(ctx context.Context, snap task.Snapshot) (string, error) {
	s.mu.Lock()
	s.calls[snap.Description]++
	call := s.calls[snap.Description]
	s.inputs[snap.Description] = snap.Input
	s.mu.Unlock()
	return s.fn(ctx, snap, call)
}

func (s *script) callCount(desc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[desc]
}

func (s *script) input(desc string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[desc]
}

func newTestRunner(t *testing.T, cfg Config, exec worker.Executor, tasks ...*task.Task) (*Runner, task.Registry) {
	t.Helper()

	reg := task.NewMemoryRegistry()
	ctx := context.Background()
	for _, tk := range tasks {
		if tk.Role == "" {
			tk.Role = "general"
		}
		if err := reg.Add(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	pool := worker.NewPool(nil)
	if err := pool.Register(worker.New("test-worker", []string{"general"}, 8, exec)); err != nil {
		t.Fatal(err)
	}

	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = fastRetry()
	}
	return New(cfg, reg, pool, nil, nil), reg
}

func TestRunDiamond(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "out-" + snap.Description, nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	b := &task.Task{ID: "b", Description: "B", DependsOn: []string{"a"}}
	c := &task.Task{ID: "c", Description: "C", DependsOn: []string{"a"}}
	d := &task.Task{ID: "d", Description: "D", DependsOn: []string{"b", "c"}}
	r, reg := newTestRunner(t, Config{}, exec, a, b, c, d)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if outcome.Completed != 4 || outcome.Failed != 0 {
		t.Fatalf("outcome: %d completed, %d failed; want 4, 0", outcome.Completed, outcome.Failed)
	}
	if outcome.PlanFingerprint == 0 {
		t.Error("outcome carries no plan fingerprint")
	}

	// Dependency results arrive concatenated in plan order.
	if got := exec.input("D"); got != "out-B\n\nout-C" {
		t.Errorf("join input = %q, want %q", got, "out-B\n\nout-C")
	}
	if got := exec.input("A"); got != "" {
		t.Errorf("root input = %q, want empty", got)
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		tk, _ := reg.Get(context.Background(), id)
		if tk.Status != task.StatusCompleted {
			t.Errorf("task %s = %s, want completed", id, tk.Status)
		}
	}
}

// TestRunRetryBudget verifies a retry budget of N yields exactly N+1
// attempts, no more.
func TestRunRetryBudget(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "", fmt.Errorf("attempt %d failed", call)
	})

	a := &task.Task{ID: "a", Description: "A", Retries: 2}
	r, reg := newTestRunner(t, Config{}, exec, a)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("outcome.Failed = %d, want 1", outcome.Failed)
	}
	if got := exec.callCount("A"); got != 3 {
		t.Errorf("executor invoked %d times, want 3 (retries=2)", got)
	}
	if outcome.Results[0].Attempts != 3 {
		t.Errorf("recorded attempts = %d, want 3", outcome.Results[0].Attempts)
	}

	tk, _ := reg.Get(context.Background(), "a")
	if tk.Status != task.StatusFailed || tk.Err == nil {
		t.Errorf("task = %s/%v, want failed with error", tk.Status, tk.Err)
	}
}

// TestRunRetryBudgetBeyondBreakerThreshold verifies a budget larger
// than the breaker's trip threshold is still honored in full: the
// breaker judges whole tasks, so it never cuts off a task's own
// attempts.
func TestRunRetryBudgetBeyondBreakerThreshold(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "", fmt.Errorf("attempt %d failed", call)
	})

	a := &task.Task{ID: "a", Description: "A", Retries: 5}
	r, _ := newTestRunner(t, Config{}, exec, a)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("outcome.Failed = %d, want 1", outcome.Failed)
	}
	if got := exec.callCount("A"); got != 6 {
		t.Errorf("executor invoked %d times, want 6 (retries=5)", got)
	}
	if outcome.Results[0].Attempts != 6 {
		t.Errorf("recorded attempts = %d, want 6", outcome.Results[0].Attempts)
	}
}

// TestRunSameRoleFailuresKeepBudgets verifies one failing task's
// attempts never eat into another same-role task's retry budget.
func TestRunSameRoleFailuresKeepBudgets(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "", errors.New("always failing")
	})

	a := &task.Task{ID: "a", Description: "A", Retries: 3}
	b := &task.Task{ID: "b", Description: "B", Retries: 3}
	r, _ := newTestRunner(t, Config{Concurrency: 1}, exec, a, b)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Failed != 2 {
		t.Fatalf("outcome.Failed = %d, want 2", outcome.Failed)
	}
	for _, desc := range []string{"A", "B"} {
		if got := exec.callCount(desc); got != 4 {
			t.Errorf("task %s invoked %d times, want 4 (retries=3)", desc, got)
		}
	}
}

func TestRunRetryEventualSuccess(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		if call < 3 {
			return "", errors.New("transient")
		}
		return "finally", nil
	})

	a := &task.Task{ID: "a", Description: "A", Retries: 2}
	r, reg := newTestRunner(t, Config{}, exec, a)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Completed != 1 {
		t.Fatalf("outcome.Completed = %d, want 1", outcome.Completed)
	}
	if outcome.Results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Results[0].Attempts)
	}
	tk, _ := reg.Get(context.Background(), "a")
	if tk.Result != "finally" {
		t.Errorf("result = %q, want finally", tk.Result)
	}
}

// TestRunBlockedPropagation verifies a permanent failure blocks all
// transitive dependents without touching independent branches.
func TestRunBlockedPropagation(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		if snap.Description == "A" {
			return "", errors.New("permanent")
		}
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	b := &task.Task{ID: "b", Description: "B", DependsOn: []string{"a"}}
	c := &task.Task{ID: "c", Description: "C", DependsOn: []string{"b"}}
	x := &task.Task{ID: "x", Description: "X"}
	r, reg := newTestRunner(t, Config{}, exec, a, b, c, x)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if outcome.Failed != 1 || outcome.Blocked != 2 || outcome.Completed != 1 {
		t.Fatalf("outcome: failed=%d blocked=%d completed=%d, want 1/2/1",
			outcome.Failed, outcome.Blocked, outcome.Completed)
	}

	// Blocked tasks never reach an executor.
	if exec.callCount("B") != 0 || exec.callCount("C") != 0 {
		t.Error("blocked task was dispatched to an executor")
	}

	// The block names its failed upstream.
	tk, _ := reg.Get(context.Background(), "c")
	var berr *BlockedError
	if !errors.As(tk.Err, &berr) {
		t.Fatalf("blocked task error = %v, want *BlockedError", tk.Err)
	}
	if berr.Upstream != "a" {
		t.Errorf("blocked upstream = %s, want a", berr.Upstream)
	}

	// The independent branch still ran.
	xt, _ := reg.Get(context.Background(), "x")
	if xt.Status != task.StatusCompleted {
		t.Errorf("independent task = %s, want completed", xt.Status)
	}
}

func TestRunFailFast(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		switch snap.Description {
		case "A":
			return "", errors.New("boom")
		case "X":
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	x := &task.Task{ID: "x", Description: "X"}
	y := &task.Task{ID: "y", Description: "Y", DependsOn: []string{"x"}}
	r, reg := newTestRunner(t, Config{FailFast: true}, exec, a, x, y)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if outcome.Failed != 1 {
		t.Errorf("outcome.Failed = %d, want 1", outcome.Failed)
	}
	if exec.callCount("Y") != 0 {
		t.Error("fail-fast still dispatched a later wave")
	}
	yt, _ := reg.Get(context.Background(), "y")
	if yt.Status != task.StatusCancelled {
		t.Errorf("pending task after fail-fast = %s, want cancelled", yt.Status)
	}
}

// TestRunCancelPending cancels a not-yet-dispatched task mid-run and
// verifies it is dropped from its wave without executing.
func TestRunCancelPending(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	var once sync.Once
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		if snap.Description == "A" {
			once.Do(func() { close(running) })
			<-release
		}
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	b := &task.Task{ID: "b", Description: "B", DependsOn: []string{"a"}}
	r, reg := newTestRunner(t, Config{}, exec, a, b)

	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := r.Run(context.Background())
		done <- result{o, err}
	}()

	<-running
	status, err := r.Cancel(context.Background(), "b")
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if status != task.StatusCancelled {
		t.Fatalf("Cancel() status = %s, want cancelled", status)
	}
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error: %v", res.err)
	}
	if res.outcome.Completed != 1 || res.outcome.Cancelled != 1 {
		t.Errorf("outcome: completed=%d cancelled=%d, want 1/1",
			res.outcome.Completed, res.outcome.Cancelled)
	}
	if exec.callCount("B") != 0 {
		t.Error("cancelled task was dispatched")
	}
	bt, _ := reg.Get(context.Background(), "b")
	if bt.Status != task.StatusCancelled {
		t.Errorf("task b = %s, want cancelled", bt.Status)
	}
}

// TestRunCancelRunningDiscardsLateResult cancels a task while its
// executor is in flight; the executor's result must be discarded.
func TestRunCancelRunningDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	var once sync.Once
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		once.Do(func() { close(running) })
		<-release
		return "late result", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	r, reg := newTestRunner(t, Config{}, exec, a)

	done := make(chan *Outcome, 1)
	go func() {
		o, _ := r.Run(context.Background())
		done <- o
	}()

	<-running
	status, err := r.Cancel(context.Background(), "a")
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if status != task.StatusCancelled {
		t.Fatalf("Cancel() status = %s, want cancelled", status)
	}
	close(release)

	outcome := <-done
	if outcome.Cancelled != 1 || outcome.Completed != 0 {
		t.Errorf("outcome: cancelled=%d completed=%d, want 1/0", outcome.Cancelled, outcome.Completed)
	}
	tk, _ := reg.Get(context.Background(), "a")
	if tk.Status != task.StatusCancelled {
		t.Errorf("task = %s, want cancelled", tk.Status)
	}
	if tk.Result != "" {
		t.Errorf("late result committed: %q", tk.Result)
	}
}

// TestRunCancelFinishedReportsStatus verifies cancelling an already
// terminal task reports its final status instead of flipping it.
func TestRunCancelFinishedReportsStatus(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	b := &task.Task{ID: "b", Description: "B", DependsOn: []string{"a"}}
	r, _ := newTestRunner(t, Config{}, exec, a, b)

	release := make(chan struct{})
	finished := make(chan struct{})
	origFn := exec.fn
	exec.fn = func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		if snap.Description == "B" {
			close(finished)
			<-release
		}
		return origFn(ctx, snap, call)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background())
	}()

	// By the time B is running, A is terminal.
	<-finished
	status, err := r.Cancel(context.Background(), "a")
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if status != task.StatusCompleted {
		t.Errorf("Cancel(finished) status = %s, want completed", status)
	}
	close(release)
	<-done
}

func TestRunNoCapableWorker(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A", Role: "designer"}
	r, reg := newTestRunner(t, Config{}, exec, a)

	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("outcome.Failed = %d, want 1", outcome.Failed)
	}
	if exec.callCount("A") != 0 {
		t.Error("executor ran despite missing capability")
	}
	tk, _ := reg.Get(context.Background(), "a")
	if !errors.Is(tk.Err, worker.ErrNoWorker) {
		t.Errorf("task error = %v, want ErrNoWorker", tk.Err)
	}
}

func TestRunValidationErrorAbortsEarly(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A", DependsOn: []string{"b"}}
	b := &task.Task{ID: "b", Description: "B", DependsOn: []string{"a"}}
	r, _ := newTestRunner(t, Config{}, exec, a, b)

	_, err := r.Run(context.Background())
	var verr *plan.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Run() error = %v, want *plan.ValidationError", err)
	}
	if exec.callCount("A") != 0 || exec.callCount("B") != 0 {
		t.Error("tasks dispatched despite invalid plan")
	}
}

// TestRunScopedToRequestedTasks verifies a run over a registry carrying
// tasks from earlier runs only plans, executes, and reports the
// requested tasks.
func TestRunScopedToRequestedTasks(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "fresh result", nil
	})

	old := &task.Task{ID: "old", Description: "Old", Status: task.StatusCompleted, Result: "OLD RESULT"}
	fresh := &task.Task{ID: "new", Description: "New"}
	r, _ := newTestRunner(t, Config{}, exec, old, fresh)

	outcome, err := r.Run(context.Background(), "new")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(outcome.Results) != 1 {
		t.Fatalf("outcome has %d results, want 1", len(outcome.Results))
	}
	if outcome.Results[0].TaskID != "new" || outcome.Results[0].Result != "fresh result" {
		t.Errorf("result = %s/%q, want new/fresh result", outcome.Results[0].TaskID, outcome.Results[0].Result)
	}
	if outcome.Completed != 1 {
		t.Errorf("outcome.Completed = %d, want 1", outcome.Completed)
	}
	if exec.callCount("Old") != 0 {
		t.Error("stored task from an earlier run was dispatched")
	}
}

func TestRunUnknownTaskID(t *testing.T) {
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		return "ok", nil
	})

	a := &task.Task{ID: "a", Description: "A"}
	r, _ := newTestRunner(t, Config{}, exec, a)

	_, err := r.Run(context.Background(), "a", "ghost")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Run(unknown id) = %v, want ErrNotFound", err)
	}
	if exec.callCount("A") != 0 {
		t.Error("tasks dispatched despite unknown requested id")
	}
}

func TestRunContextCancelled(t *testing.T) {
	running := make(chan struct{})
	var once sync.Once
	exec := newScript(func(ctx context.Context, snap task.Snapshot, call int) (string, error) {
		once.Do(func() { close(running) })
		<-ctx.Done()
		return "", ctx.Err()
	})

	a := &task.Task{ID: "a", Description: "A"}
	r, _ := newTestRunner(t, Config{}, exec, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx)
		done <- err
	}()

	<-running
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestBlockedErrorMessage(t *testing.T) {
	err := &BlockedError{TaskID: "b", Upstream: "a"}
	if err.Error() == "" || !errors.As(error(err), new(*BlockedError)) {
		t.Error("BlockedError should format and unwrap")
	}
}
