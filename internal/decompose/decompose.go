// Package decompose turns a high-level goal into tasks with dependencies.
//
// The actual decomposition is an external collaborator (typically an LLM
// call); this package validates its structured output and converts it
// into registry tasks. Steps reference dependencies by index into the
// returned list, and indices are converted to stable task IDs at
// creation time. Descriptions are never used for dependency matching.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/goalflow/internal/plan"
	"github.com/aristath/goalflow/internal/task"
)

// Step is one record of a decomposition: a subtask description with
// dependencies on earlier or later steps by index.
type Step struct {
	Description string        `json:"description"`
	DependsOn   []int         `json:"depends_on,omitempty"`
	Estimate    time.Duration `json:"estimated_duration,omitempty"`
	Role        string        `json:"role,omitempty"`
	Priority    int           `json:"priority,omitempty"`
	Resources   []string      `json:"resources,omitempty"`
}

// Collaborator breaks a goal into steps. Implementations are opaque to
// the scheduler; their output is validated before any plan is built.
type Collaborator interface {
	Decompose(ctx context.Context, goal string) ([]Step, error)
}

// Func adapts a plain function to the Collaborator interface.
type Func func(ctx context.Context, goal string) ([]Step, error)

// Decompose calls f.
func (f Func) Decompose(ctx context.Context, goal string) ([]Step, error) {
	return f(ctx, goal)
}

// ParseSteps extracts and validates a JSON step array from raw
// collaborator output. The JSON array may be surrounded by prose; the
// first '[' to the last ']' is taken. Malformed structure is a
// *plan.ValidationError and is never retried.
func ParseSteps(raw string) ([]Step, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil, &plan.ValidationError{Reason: "no JSON step array found in collaborator output"}
	}

	var steps []Step
	if err := json.Unmarshal([]byte(raw[start:end+1]), &steps); err != nil {
		return nil, &plan.ValidationError{Reason: fmt.Sprintf("malformed step array: %v", err)}
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// ValidateSteps checks structural soundness of a decomposition: at least
// one step, non-empty descriptions, and dependency indices that reference
// real steps. Cycles are caught later at plan construction.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return &plan.ValidationError{Reason: "collaborator returned no steps"}
	}
	for i, s := range steps {
		name := fmt.Sprintf("step %d", i)
		if strings.TrimSpace(s.Description) == "" {
			return &plan.ValidationError{TaskID: name, Reason: "empty description"}
		}
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= len(steps) {
				return &plan.ValidationError{TaskID: name, Reason: fmt.Sprintf("dependency index %d out of range", dep)}
			}
			if dep == i {
				return &plan.ValidationError{TaskID: name, Reason: "step depends on itself"}
			}
		}
	}
	return nil
}

// Options control how steps materialize into tasks.
type Options struct {
	DefaultRole string // Role for steps that don't name one
	Retries     int    // Retry budget applied to every task
}

// Materialize converts validated steps into tasks with freshly assigned
// IDs, resolving index references to those IDs.
func Materialize(steps []Step, opts Options) ([]*task.Task, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	ids := make([]string, len(steps))
	for i := range steps {
		ids[i] = uuid.New().String()
	}

	tasks := make([]*task.Task, len(steps))
	for i, s := range steps {
		role := s.Role
		if role == "" {
			role = opts.DefaultRole
		}
		deps := make([]string, 0, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			deps = append(deps, ids[dep])
		}
		tasks[i] = &task.Task{
			ID:          ids[i],
			Description: s.Description,
			Role:        role,
			Priority:    s.Priority,
			DependsOn:   deps,
			Resources:   append([]string(nil), s.Resources...),
			Retries:     opts.Retries,
			Estimate:    s.Estimate,
			Status:      task.StatusPending,
		}
	}
	return tasks, nil
}
