package aggregate

import "fmt"

// Pipeline treats the run as a sequential chain: each stage consumed the
// previous stage's output, and the last stage's output is the run's
// result. A failure anywhere halts the pipeline and reports which stage
// failed.
type Pipeline struct{}

// Name returns the policy name.
func (Pipeline) Name() string { return PolicyPipeline }

// Aggregate validates the chain shape (exactly one task per wave, waves
// consecutive from zero) and returns the final stage's output.
func (Pipeline) Aggregate(candidates []Candidate) (*Result, error) {
	if len(candidates) == 0 {
		return nil, &Error{Policy: PolicyPipeline, Reason: "no stages"}
	}

	for i, c := range candidates {
		if c.Wave != i {
			return nil, &Error{Policy: PolicyPipeline, Reason: "tasks do not form a linear pipeline"}
		}
	}

	for i, c := range candidates {
		if !c.OK {
			reason := fmt.Sprintf("stage %d (task %s) did not complete", i, c.TaskID)
			if c.Err != nil {
				reason = fmt.Sprintf("%s: %v", reason, c.Err)
			}
			return nil, &Error{Policy: PolicyPipeline, Reason: reason}
		}
	}

	last := candidates[len(candidates)-1]
	return &Result{Policy: PolicyPipeline, Outputs: []string{last.Output}}, nil
}
