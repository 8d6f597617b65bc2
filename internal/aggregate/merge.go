package aggregate

// Merge collects every successful result, in plan order.
type Merge struct{}

// Name returns the policy name.
func (Merge) Name() string { return PolicyMerge }

// Aggregate returns all successful outputs. A run with zero successes is
// an aggregation error, not an empty list.
func (Merge) Aggregate(candidates []Candidate) (*Result, error) {
	outputs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.OK {
			outputs = append(outputs, c.Output)
		}
	}
	if len(outputs) == 0 {
		return nil, &Error{Policy: PolicyMerge, Reason: "no successful results to merge"}
	}
	return &Result{Policy: PolicyMerge, Outputs: outputs}, nil
}
