package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/goalflow/internal/config"
	"github.com/aristath/goalflow/internal/proc"
)

var (
	flagVerbose bool

	cfg     *config.Config
	logger  *zap.Logger
	procMgr = proc.NewManager()
)

var rootCmd = &cobra.Command{
	Use:   "goalflow",
	Short: "Goal decomposition and dependency-aware task execution",
	Long: `Goalflow breaks a high-level goal into tasks with dependencies,
schedules them in dependency order, executes independent tasks
concurrently against a pool of workers, and aggregates the results
into a single outcome.

Workers and the decomposer are external commands or HTTP endpoints
configured in config.json; goalflow itself never interprets task
descriptions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flagVerbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}

		cfg, err = config.LoadDefault()
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Orphaned subprocesses outlive the run otherwise.
		if procMgr.Count() > 0 {
			_ = procMgr.KillAll()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command with the given signal-aware context.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if procMgr.Count() > 0 {
			_ = procMgr.KillAll()
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose (development) logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
