package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/goalflow/internal/aggregate"
	"github.com/aristath/goalflow/internal/config"
	"github.com/aristath/goalflow/internal/decompose"
	"github.com/aristath/goalflow/internal/runner"
	"github.com/aristath/goalflow/internal/store"
	"github.com/aristath/goalflow/internal/task"
	"github.com/aristath/goalflow/internal/worker"
)

// openRegistry returns the task registry for this invocation. An empty
// path falls back to the configured store path, then the default data
// dir; "memory" selects the ephemeral in-memory registry.
func openRegistry(ctx context.Context, path string) (task.Registry, *store.SQLiteStore, error) {
	if path == "" {
		path = cfg.StorePath
	}
	if path == "memory" {
		return task.NewMemoryRegistry(), nil, nil
	}
	if path == "" {
		path = config.DefaultStorePath()
	}

	st, err := store.NewSQLiteStore(ctx, path, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

// buildPool registers one worker per config entry.
func buildPool() (*worker.Pool, error) {
	pool := worker.NewPool(logger)
	for id, wc := range cfg.Workers {
		exec, err := buildExecutor(wc)
		if err != nil {
			return nil, fmt.Errorf("worker %q: %w", id, err)
		}
		w := worker.New(id, wc.Capabilities, int64(wc.Capacity), exec)
		if err := pool.Register(w); err != nil {
			return nil, err
		}
	}
	if len(pool.Workers()) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}
	return pool, nil
}

func buildExecutor(wc config.WorkerConfig) (worker.Executor, error) {
	switch wc.Executor {
	case "command", "":
		if wc.Command == "" {
			return nil, fmt.Errorf("command executor requires a command")
		}
		return &worker.CommandExecutor{
			Command: wc.Command,
			Args:    wc.Args,
			WorkDir: wc.WorkDir,
			Manager: procMgr,
		}, nil
	case "http":
		if wc.URL == "" {
			return nil, fmt.Errorf("http executor requires a url")
		}
		return &worker.HTTPExecutor{URL: wc.URL}, nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", wc.Executor)
	}
}

// buildCollaborator returns the configured decomposer.
func buildCollaborator() (decompose.Collaborator, error) {
	dc := cfg.Decomposer
	switch dc.Mode {
	case "chain", "":
		return &decompose.ChainCollaborator{Roles: dc.Chain}, nil
	case "command":
		if dc.Command == "" {
			return nil, fmt.Errorf("command decomposer requires a command")
		}
		return &decompose.CommandCollaborator{
			Command: dc.Command,
			Args:    dc.Args,
			Manager: procMgr,
		}, nil
	default:
		return nil, fmt.Errorf("unknown decomposer mode %q", dc.Mode)
	}
}

// buildArbiter returns the configured judge, or nil when none is set.
// Only the bestof policy needs one.
func buildArbiter() aggregate.Arbiter {
	if cfg.Arbiter.Command == "" {
		return nil
	}
	return &aggregate.CommandArbiter{
		Command: cfg.Arbiter.Command,
		Args:    cfg.Arbiter.Args,
		Manager: procMgr,
	}
}

// retryConfig converts configured backoff parameters, keeping defaults
// for anything unset.
func retryConfig() runner.RetryConfig {
	rc := runner.DefaultRetryConfig()
	if cfg.Retry.InitialIntervalMS > 0 {
		rc.InitialInterval = time.Duration(cfg.Retry.InitialIntervalMS) * time.Millisecond
	}
	if cfg.Retry.MaxIntervalMS > 0 {
		rc.MaxInterval = time.Duration(cfg.Retry.MaxIntervalMS) * time.Millisecond
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.RandomizationFactor > 0 {
		rc.RandomizationFactor = cfg.Retry.RandomizationFactor
	}
	return rc
}

// materialize decomposes a goal and registers the resulting tasks.
func materialize(ctx context.Context, reg task.Registry, goal string) ([]*task.Task, error) {
	collab, err := buildCollaborator()
	if err != nil {
		return nil, err
	}

	steps, err := collab.Decompose(ctx, goal)
	if err != nil {
		return nil, err
	}
	tasks, err := decompose.Materialize(steps, decompose.Options{
		DefaultRole: cfg.Decomposer.DefaultRole,
		Retries:     cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if err := reg.Add(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}
