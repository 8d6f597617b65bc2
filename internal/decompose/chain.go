package decompose

import (
	"context"
	"fmt"

	"github.com/aristath/goalflow/internal/plan"
)

// ChainCollaborator expands a fixed pipeline of roles into a linear chain
// of steps, each depending on the previous one. It needs no external
// call, which makes it the default for pipeline-style runs and for tests.
type ChainCollaborator struct {
	Roles []string // e.g. ["coder", "reviewer", "tester"]
}

// Decompose produces one step per configured role, chained in order.
func (c *ChainCollaborator) Decompose(ctx context.Context, goal string) ([]Step, error) {
	if len(c.Roles) == 0 {
		return nil, &plan.ValidationError{Reason: "chain collaborator has no roles configured"}
	}

	steps := make([]Step, len(c.Roles))
	for i, role := range c.Roles {
		s := Step{
			Description: fmt.Sprintf("[%s] %s", role, goal),
			Role:        role,
		}
		if i > 0 {
			s.DependsOn = []int{i - 1}
		}
		steps[i] = s
	}
	return steps, nil
}
