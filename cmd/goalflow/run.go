package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/goalflow/internal/aggregate"
	"github.com/aristath/goalflow/internal/events"
	"github.com/aristath/goalflow/internal/runner"
	"github.com/aristath/goalflow/internal/store"
	"github.com/aristath/goalflow/internal/task"
	"github.com/aristath/goalflow/internal/tui"
)

var (
	runPolicy      string
	runConcurrency int
	runFailFast    bool
	runWatch       bool
	runStore       string
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Decompose a goal and execute the resulting tasks",
	Long: `Run decomposes a goal into tasks, schedules them in dependency
order, executes independent tasks concurrently, and aggregates the
results according to the selected policy.

Aggregation policies (--policy):
  merge:     concatenate every successful result (default)
  bestof:    let the configured arbiter pick a single winner
  pipeline:  the run must form a linear chain; the last stage wins

Tasks whose upstream dependency fails permanently are blocked, never
executed. With --fail-fast the first permanent failure cancels
everything still pending instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

func init() {
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "Aggregation policy: merge, bestof, or pipeline (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Max tasks in flight (default from config)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Cancel the run on the first permanent failure")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show the live dashboard while running")
	runCmd.Flags().StringVar(&runStore, "store", "", `Database path, or "memory" for an ephemeral run`)
}

func runGoal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	goal := strings.Join(args, " ")

	policyName := runPolicy
	if policyName == "" {
		policyName = cfg.Aggregation
	}
	policy, err := aggregate.ForName(policyName, buildArbiter())
	if err != nil {
		return err
	}

	reg, st, err := openRegistry(ctx, runStore)
	if err != nil {
		return err
	}
	defer reg.Close()

	pool, err := buildPool()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	historyDone := make(chan struct{})
	if st != nil {
		go recordHistory(st, bus.Subscribe(events.TopicTask, 256), historyDone)
	} else {
		close(historyDone)
	}

	tasks, err := materialize(ctx, reg, goal)
	if err != nil {
		return err
	}
	// The persistent store keeps tasks across invocations; the run is
	// scoped to the tasks this goal just produced.
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	concurrency := runConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	failFast := runFailFast || cfg.FailFast

	r := runner.New(runner.Config{
		Concurrency: concurrency,
		Retry:       retryConfig(),
		FailFast:    failFast,
	}, reg, pool, bus, logger)

	started := time.Now()
	var outcome *runner.Outcome
	var runErr error
	if runWatch {
		outcome, runErr = runWithDashboard(ctx, r, bus, ids)
	} else {
		outcome, runErr = r.Run(ctx, ids...)
	}

	bus.Close()
	<-historyDone

	if outcome != nil && st != nil {
		saveRun(st, outcome, policyName, started)
	}
	if runErr != nil {
		return runErr
	}

	printOutcome(cmd, outcome)

	result, err := policy.Aggregate(aggregate.Candidates(outcome))
	if err != nil {
		return err
	}
	printAggregate(cmd, result)
	return nil
}

// runWithDashboard runs the runner alongside the watch TUI. Quitting
// the dashboard cancels the run.
func runWithDashboard(ctx context.Context, r *runner.Runner, bus *events.Bus, ids []string) (*runner.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen(), tea.WithContext(ctx))

	type runResult struct {
		outcome *runner.Outcome
		err     error
	}
	resCh := make(chan runResult, 1)
	go func() {
		outcome, err := r.Run(runCtx, ids...)
		resCh <- runResult{outcome, err}
		p.Send(tui.DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		logger.Warn("dashboard exited", zap.Error(err))
	}
	cancel()

	res := <-resCh
	return res.outcome, res.err
}

// recordHistory persists attempt history from task events until the
// subscription channel closes.
func recordHistory(st *store.SQLiteStore, sub <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for ev := range sub {
		var a store.Attempt
		switch e := ev.(type) {
		case events.TaskRetryEvent:
			a = store.Attempt{TaskID: e.ID, Attempt: e.Attempt, Error: e.Err.Error()}
		case events.TaskCompletedEvent:
			a = store.Attempt{TaskID: e.ID, Attempt: e.Attempts, Duration: e.Duration}
		case events.TaskFailedEvent:
			errStr := ""
			if e.Err != nil {
				errStr = e.Err.Error()
			}
			a = store.Attempt{TaskID: e.ID, Attempt: e.Attempts, Error: errStr, Duration: e.Duration}
		default:
			continue
		}
		if err := st.RecordAttempt(ctx, a); err != nil {
			logger.Warn("failed to record attempt", zap.String("task", a.TaskID), zap.Error(err))
		}
	}
}

// saveRun persists the run summary; failures only warn.
func saveRun(st *store.SQLiteStore, o *runner.Outcome, policy string, started time.Time) {
	err := st.SaveRun(context.Background(), store.Run{
		ID:          uuid.New().String(),
		Fingerprint: fmt.Sprintf("%016x", o.PlanFingerprint),
		Policy:      policy,
		Completed:   o.Completed,
		Failed:      o.Failed,
		Blocked:     o.Blocked,
		Cancelled:   o.Cancelled,
		StartedAt:   started,
		FinishedAt:  started.Add(o.Duration),
	})
	if err != nil {
		logger.Warn("failed to save run record", zap.Error(err))
	}
}

func printOutcome(cmd *cobra.Command, o *runner.Outcome) {
	cmd.Printf("run finished in %s: %d completed, %d failed, %d blocked, %d cancelled\n",
		o.Duration.Round(time.Millisecond), o.Completed, o.Failed, o.Blocked, o.Cancelled)
	for _, res := range o.Results {
		if res.Status == task.StatusCompleted {
			continue
		}
		if res.Err != nil {
			cmd.Printf("  %-9s %s: %v\n", res.Status, res.TaskID, res.Err)
		} else {
			cmd.Printf("  %-9s %s\n", res.Status, res.TaskID)
		}
	}
}

func printAggregate(cmd *cobra.Command, res *aggregate.Result) {
	if res.Tie {
		cmd.Println("\nbestof: tie between top candidates, no winner selected")
		return
	}
	if res.WinnerID != "" {
		cmd.Printf("\nwinner: %s\n", res.WinnerID)
	}
	cmd.Println()
	cmd.Println(strings.Join(res.Outputs, "\n\n"))
}
