package aggregate

import "fmt"

// Arbiter scores a candidate for best-of selection. Typically backed by
// a scoring function or an external judge call.
type Arbiter interface {
	Score(c Candidate) (float64, error)
}

// ArbiterFunc adapts a plain function to the Arbiter interface.
type ArbiterFunc func(c Candidate) (float64, error)

// Score calls f.
func (f ArbiterFunc) Score(c Candidate) (float64, error) { return f(c) }

// BestOf lets an external arbiter pick one winner among the successful
// candidates. Equal top scores are reported as a tie, never broken
// arbitrarily.
type BestOf struct {
	Arbiter Arbiter
}

// Name returns the policy name.
func (BestOf) Name() string { return PolicyBestOf }

// Aggregate scores every successful candidate and returns the winner,
// a tie, or an error when there is nothing to choose from.
func (b BestOf) Aggregate(candidates []Candidate) (*Result, error) {
	var successes []Candidate
	for _, c := range candidates {
		if c.OK {
			successes = append(successes, c)
		}
	}
	if len(successes) == 0 {
		return nil, &Error{Policy: PolicyBestOf, Reason: "no successful candidates to choose from"}
	}

	var best Candidate
	bestScore := 0.0
	tie := false
	for i, c := range successes {
		score, err := b.Arbiter.Score(c)
		if err != nil {
			return nil, &Error{Policy: PolicyBestOf, Reason: fmt.Sprintf("arbiter failed on task %s: %v", c.TaskID, err)}
		}
		switch {
		case i == 0 || score > bestScore:
			best = c
			bestScore = score
			tie = false
		case score == bestScore:
			tie = true
		}
	}

	if tie {
		return &Result{Policy: PolicyBestOf, Tie: true}, nil
	}
	return &Result{Policy: PolicyBestOf, Outputs: []string{best.Output}, WinnerID: best.TaskID}, nil
}
