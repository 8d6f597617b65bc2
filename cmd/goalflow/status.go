package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/goalflow/internal/store"
	"github.com/aristath/goalflow/internal/task"
)

var statusStore string

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show stored tasks and recent runs",
	Long: `Status summarizes the stored tasks and recent runs. With a task ID
it shows that task's details and its attempt history instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg, st, err := openRegistry(ctx, statusStore)
		if err != nil {
			return err
		}
		defer reg.Close()

		if len(args) == 1 {
			return taskStatus(cmd, reg, st, args[0])
		}

		tasks, err := reg.List(ctx)
		if err != nil {
			return err
		}

		counts := make(map[task.Status]int)
		for _, t := range tasks {
			counts[t.Status]++
		}
		cmd.Printf("%d task(s): %d pending, %d running, %d completed, %d failed, %d blocked, %d cancelled\n",
			len(tasks),
			counts[task.StatusPending]+counts[task.StatusQueued],
			counts[task.StatusRunning],
			counts[task.StatusCompleted],
			counts[task.StatusFailed],
			counts[task.StatusBlocked],
			counts[task.StatusCancelled])

		for _, t := range tasks {
			cmd.Printf("  %-9s %s  [%s] %s\n", t.Status, t.ID, t.Role, t.Description)
		}

		if st == nil {
			return nil
		}
		runs, err := st.Runs(ctx, 10)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		cmd.Println("\nrecent runs:")
		for _, r := range runs {
			cmd.Printf("  %s  %-8s  %d ok / %d failed / %d blocked / %d cancelled  (%s)\n",
				r.StartedAt.Format(time.DateTime), r.Policy,
				r.Completed, r.Failed, r.Blocked, r.Cancelled,
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		}
		return nil
	},
}

// taskStatus prints one task's details and, when the store is
// persistent, its recorded attempt history.
func taskStatus(cmd *cobra.Command, reg task.Registry, st *store.SQLiteStore, id string) error {
	ctx := cmd.Context()

	t, err := reg.Get(ctx, id)
	if err != nil {
		return err
	}

	cmd.Printf("%s  %s\n", t.ID, t.Status)
	cmd.Printf("  role:        %s\n", t.Role)
	cmd.Printf("  description: %s\n", t.Description)
	if len(t.DependsOn) > 0 {
		cmd.Printf("  depends on:  %v\n", t.DependsOn)
	}
	if t.Err != nil {
		cmd.Printf("  error:       %v\n", t.Err)
	}
	if t.Result != "" {
		cmd.Printf("  result:      %s\n", t.Result)
	}

	if st == nil {
		return nil
	}
	attempts, err := st.Attempts(ctx, id)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	cmd.Println("\nattempts:")
	for _, a := range attempts {
		if a.Error != "" {
			cmd.Printf("  #%d  %s  failed: %s\n", a.Attempt, a.At.Format(time.DateTime), a.Error)
		} else {
			cmd.Printf("  #%d  %s  ok (%s)\n", a.Attempt, a.At.Format(time.DateTime), a.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVar(&statusStore, "store", "", "Database path (default from config)")
}
