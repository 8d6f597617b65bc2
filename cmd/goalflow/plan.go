package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/goalflow/internal/decompose"
	"github.com/aristath/goalflow/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Decompose a goal and print the execution plan without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		goal := strings.Join(args, " ")

		collab, err := buildCollaborator()
		if err != nil {
			return err
		}
		steps, err := collab.Decompose(ctx, goal)
		if err != nil {
			return err
		}
		tasks, err := decompose.Materialize(steps, decompose.Options{
			DefaultRole: cfg.Decomposer.DefaultRole,
			Retries:     cfg.Retries,
		})
		if err != nil {
			return err
		}
		p, err := plan.Build(tasks)
		if err != nil {
			return err
		}

		byID := make(map[string]int, len(tasks))
		for i, t := range tasks {
			byID[t.ID] = i
		}

		cmd.Printf("%d task(s) in %d wave(s), fingerprint %016x\n\n", len(tasks), len(p.Waves), p.Fingerprint())
		for waveIdx, ids := range p.Waves {
			cmd.Printf("wave %d:\n", waveIdx+1)
			for _, id := range ids {
				t := tasks[byID[id]]
				cmd.Printf("  [%s] %s\n", t.Role, t.Description)
				if len(t.DependsOn) > 0 {
					cmd.Printf("      after: %s\n", strings.Join(t.DependsOn, ", "))
				}
			}
		}
		return nil
	},
}
