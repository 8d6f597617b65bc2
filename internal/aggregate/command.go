package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/goalflow/internal/proc"
)

// CommandArbiter scores candidates by shelling out to an external judge.
// The candidate is written to stdin as JSON; stdout must contain a
// single float score.
type CommandArbiter struct {
	Command string
	Args    []string
	Manager *proc.Manager // Optional; tracks the subprocess for shutdown
}

// Score runs the judge command for one candidate.
func (a *CommandArbiter) Score(c Candidate) (float64, error) {
	payload, err := json.Marshal(struct {
		TaskID string `json:"task_id"`
		Output string `json:"output"`
	}{TaskID: c.TaskID, Output: c.Output})
	if err != nil {
		return 0, fmt.Errorf("encoding candidate: %w", err)
	}

	cmd := proc.Command(context.Background(), a.Command, a.Args...)
	stdout, _, err := proc.Run(a.Manager, cmd, string(payload))
	if err != nil {
		return 0, fmt.Errorf("arbiter command: %w", err)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64)
	if err != nil {
		return 0, fmt.Errorf("arbiter output is not a score: %q", strings.TrimSpace(string(stdout)))
	}
	return score, nil
}
