package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/aristath/goalflow/internal/task"
)

func mk(id string, deps ...string) *task.Task {
	return &task.Task{ID: id, Description: id, DependsOn: deps}
}

// TestBuildValidation tests plan construction with various task sets.
func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []*task.Task
		wantErr     bool
		errContains string
	}{
		{
			name:  "valid linear chain",
			tasks: []*task.Task{mk("A"), mk("B", "A"), mk("C", "B")},
		},
		{
			name:  "valid parallel tasks",
			tasks: []*task.Task{mk("A"), mk("B"), mk("C", "A", "B")},
		},
		{
			name:  "single task no deps",
			tasks: []*task.Task{mk("A")},
		},
		{
			name:        "empty task set",
			tasks:       nil,
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "duplicate ID",
			tasks:       []*task.Task{mk("A"), mk("A")},
			wantErr:     true,
			errContains: "duplicate",
		},
		{
			name:        "self-dependency",
			tasks:       []*task.Task{mk("A", "A")},
			wantErr:     true,
			errContains: "itself",
		},
		{
			name:        "unknown dependency",
			tasks:       []*task.Task{mk("A", "missing")},
			wantErr:     true,
			errContains: "unknown",
		},
		{
			name:        "direct cycle",
			tasks:       []*task.Task{mk("A", "B"), mk("B", "A")},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "transitive cycle",
			tasks:       []*task.Task{mk("A", "B"), mk("B", "C"), mk("C", "A")},
			wantErr:     true,
			errContains: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Build(tt.tasks)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if len(p.Order) != len(tt.tasks) {
				t.Errorf("Order has %d tasks, want %d", len(p.Order), len(tt.tasks))
			}
		})
	}
}

// TestBuildCycleNamesParticipant verifies the cycle error names an actual
// member of the cycle, not an arbitrary task.
func TestBuildCycleNamesParticipant(t *testing.T) {
	tasks := []*task.Task{
		mk("ok"),
		mk("x", "y"),
		mk("y", "x"),
	}
	_, err := Build(tasks)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.TaskID != "x" && verr.TaskID != "y" {
		t.Errorf("cycle error names %q, want a cycle member", verr.TaskID)
	}
}

// TestBuildWaves verifies the wave partition: a task's wave is one past
// the latest wave among its dependencies.
func TestBuildWaves(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*task.Task
		waves [][]string
	}{
		{
			name:  "independent tasks share a wave",
			tasks: []*task.Task{mk("A"), mk("B"), mk("C", "A", "B")},
			waves: [][]string{{"A", "B"}, {"C"}},
		},
		{
			name:  "linear chain is one task per wave",
			tasks: []*task.Task{mk("A"), mk("B", "A"), mk("C", "B")},
			waves: [][]string{{"A"}, {"B"}, {"C"}},
		},
		{
			name: "diamond",
			tasks: []*task.Task{
				mk("root"),
				mk("left", "root"), mk("right", "root"),
				mk("join", "left", "right"),
			},
			waves: [][]string{{"root"}, {"left", "right"}, {"join"}},
		},
		{
			name: "wave follows deepest dependency",
			tasks: []*task.Task{
				mk("A"), mk("B", "A"), mk("C"),
				mk("D", "B", "C"),
			},
			waves: [][]string{{"A", "C"}, {"B"}, {"D"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, tk := range tt.tasks {
				tk.Seq = i
			}
			p, err := Build(tt.tasks)
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if len(p.Waves) != len(tt.waves) {
				t.Fatalf("got %d waves, want %d: %v", len(p.Waves), len(tt.waves), p.Waves)
			}
			for w := range tt.waves {
				got := strings.Join(p.Waves[w], ",")
				want := strings.Join(tt.waves[w], ",")
				if got != want {
					t.Errorf("wave %d = %s, want %s", w, got, want)
				}
			}
			for w, ids := range p.Waves {
				for _, id := range ids {
					if p.WaveOf(id) != w {
						t.Errorf("WaveOf(%s) = %d, want %d", id, p.WaveOf(id), w)
					}
				}
			}
		})
	}
}

// TestBuildPriorityOrder verifies intra-wave ordering: priority
// descending, then creation sequence.
func TestBuildPriorityOrder(t *testing.T) {
	a := mk("A")
	b := mk("B")
	c := mk("C")
	a.Seq, b.Seq, c.Seq = 0, 1, 2
	b.Priority = 5
	c.Priority = 5

	p, err := Build([]*task.Task{a, b, c})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	got := strings.Join(p.Waves[0], ",")
	if got != "B,C,A" {
		t.Errorf("wave order = %s, want B,C,A", got)
	}
}

// TestBuildIdempotent verifies building twice from the same task set
// yields identical order and fingerprint.
func TestBuildIdempotent(t *testing.T) {
	tasks := []*task.Task{
		mk("A"), mk("B", "A"), mk("C", "A"), mk("D", "B", "C"),
	}
	for i, tk := range tasks {
		tk.Seq = i
	}

	p1, err := Build(tasks)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	p2, err := Build(tasks)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if strings.Join(p1.Order, ",") != strings.Join(p2.Order, ",") {
		t.Errorf("orders differ: %v vs %v", p1.Order, p2.Order)
	}
	if p1.Fingerprint() != p2.Fingerprint() {
		t.Errorf("fingerprints differ: %x vs %x", p1.Fingerprint(), p2.Fingerprint())
	}
}

// TestFingerprintChangesWithStructure verifies the fingerprint reflects
// dependency structure.
func TestFingerprintChangesWithStructure(t *testing.T) {
	p1, err := Build([]*task.Task{mk("A"), mk("B", "A")})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	p2, err := Build([]*task.Task{mk("A"), mk("B")})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if p1.Fingerprint() == p2.Fingerprint() {
		t.Error("different structures produced the same fingerprint")
	}
}

func TestWaveOfUnknown(t *testing.T) {
	p, err := Build([]*task.Task{mk("A")})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := p.WaveOf("nope"); got != -1 {
		t.Errorf("WaveOf(unknown) = %d, want -1", got)
	}
}
