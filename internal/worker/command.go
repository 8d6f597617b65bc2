package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/goalflow/internal/proc"
	"github.com/aristath/goalflow/internal/task"
)

// CommandExecutor executes tasks by running an external command per task.
// The task snapshot is written to stdin as JSON; stdout becomes the
// task result.
type CommandExecutor struct {
	Command string
	Args    []string
	WorkDir string
	Manager *proc.Manager // Optional; tracks subprocesses for shutdown
}

// Execute runs the command for one snapshot.
func (e *CommandExecutor) Execute(ctx context.Context, snap task.Snapshot) (string, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	cmd := proc.Command(ctx, e.Command, e.Args...)
	if e.WorkDir != "" {
		cmd.Dir = e.WorkDir
	}

	stdout, _, err := proc.Run(e.Manager, cmd, string(payload))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(stdout), "\n"), nil
}
