package decompose

import (
	"context"
	"fmt"

	"github.com/aristath/goalflow/internal/proc"
)

// CommandCollaborator shells out to an external command for decomposition.
// The goal is written to the command's stdin; stdout must contain a JSON
// step array (prose around it is tolerated).
type CommandCollaborator struct {
	Command string
	Args    []string
	Manager *proc.Manager // Optional; tracks the subprocess for shutdown
}

// Decompose runs the configured command and parses its output.
func (c *CommandCollaborator) Decompose(ctx context.Context, goal string) ([]Step, error) {
	cmd := proc.Command(ctx, c.Command, c.Args...)
	stdout, _, err := proc.Run(c.Manager, cmd, goal)
	if err != nil {
		return nil, fmt.Errorf("decomposition command: %w", err)
	}
	return ParseSteps(string(stdout))
}
