// Package aggregate combines the task results of a run into a single
// outcome according to a selectable policy: merge every success, pick a
// best-of winner through an external arbiter, or treat the run as a
// pipeline whose last stage's output wins.
package aggregate

import (
	"fmt"

	"github.com/aristath/goalflow/internal/runner"
	"github.com/aristath/goalflow/internal/task"
)

// Policy names.
const (
	PolicyMerge    = "merge"
	PolicyBestOf   = "bestof"
	PolicyPipeline = "pipeline"
)

// Error is a run-level aggregation failure: zero candidates for best-of,
// a broken pipeline chain, a failed pipeline stage. It is surfaced to
// the caller, never swallowed into an empty or default result.
type Error struct {
	Policy string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aggregation (%s): %s", e.Policy, e.Reason)
}

// Candidate is one task's contribution to aggregation.
type Candidate struct {
	TaskID string
	Output string
	Err    error
	OK     bool // Completed successfully
	Wave   int  // Wave index, used as the pipeline stage number
}

// Candidates extracts aggregation candidates from a run outcome,
// preserving plan order.
func Candidates(o *runner.Outcome) []Candidate {
	out := make([]Candidate, 0, len(o.Results))
	for _, r := range o.Results {
		out = append(out, Candidate{
			TaskID: r.TaskID,
			Output: r.Result,
			Err:    r.Err,
			OK:     r.Status == task.StatusCompleted,
			Wave:   r.Wave,
		})
	}
	return out
}

// Result is the aggregated outcome of a run.
type Result struct {
	Policy   string
	Outputs  []string // merge: every success; bestof: the winner; pipeline: the last stage
	WinnerID string   // bestof only, empty on tie
	Tie      bool     // bestof only
}

// Policy combines candidates into a single result.
type Policy interface {
	Name() string
	Aggregate(candidates []Candidate) (*Result, error)
}

// ForName returns the policy registered under the given name. The
// arbiter is only used by bestof and may be nil for the other policies.
func ForName(name string, arbiter Arbiter) (Policy, error) {
	switch name {
	case PolicyMerge, "":
		return Merge{}, nil
	case PolicyBestOf:
		if arbiter == nil {
			return nil, fmt.Errorf("policy %q requires an arbiter", name)
		}
		return BestOf{Arbiter: arbiter}, nil
	case PolicyPipeline:
		return Pipeline{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation policy %q", name)
	}
}
