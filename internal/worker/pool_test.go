package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aristath/goalflow/internal/task"
)

func echoExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, snap task.Snapshot) (string, error) {
		return snap.Description, nil
	})
}

func TestPoolRegister(t *testing.T) {
	pool := NewPool(nil)

	if err := pool.Register(New("w1", []string{"coder"}, 1, echoExecutor())); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := pool.Register(New("w1", []string{"coder"}, 1, echoExecutor())); err == nil {
		t.Error("expected error registering duplicate worker ID")
	}
	if got := len(pool.Workers()); got != 1 {
		t.Errorf("pool has %d workers, want 1", got)
	}
}

func TestPoolMatch(t *testing.T) {
	pool := NewPool(nil)
	pool.Register(New("coder-1", []string{"coder"}, 1, echoExecutor()))
	pool.Register(New("reviewer-1", []string{"reviewer"}, 1, echoExecutor()))
	pool.Register(New("generalist", []string{"coder", "reviewer", "tester"}, 4, echoExecutor()))

	tests := []struct {
		role    string
		wantID  string
		wantErr bool
	}{
		// The generalist has more free slots, so it wins for shared roles.
		{role: "coder", wantID: "generalist"},
		{role: "tester", wantID: "generalist"},
		{role: "designer", wantErr: true},
	}
	for _, tt := range tests {
		w, err := pool.Match(tt.role)
		if tt.wantErr {
			if !errors.Is(err, ErrNoWorker) {
				t.Errorf("Match(%q) error = %v, want ErrNoWorker", tt.role, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Match(%q) error: %v", tt.role, err)
		}
		if w.ID != tt.wantID {
			t.Errorf("Match(%q) = %s, want %s", tt.role, w.ID, tt.wantID)
		}
	}
}

func TestPoolMatchTieByRegistrationOrder(t *testing.T) {
	pool := NewPool(nil)
	pool.Register(New("first", []string{"coder"}, 2, echoExecutor()))
	pool.Register(New("second", []string{"coder"}, 2, echoExecutor()))

	w, err := pool.Match("coder")
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != "first" {
		t.Errorf("tie broke to %s, want first (registration order)", w.ID)
	}
}

func TestWorkerCapacityBounds(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0

	block := make(chan struct{})
	w := New("w", []string{"r"}, 2, ExecutorFunc(func(ctx context.Context, snap task.Snapshot) (string, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		<-block
		mu.Lock()
		inflight--
		mu.Unlock()
		return "", nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Execute(context.Background(), task.Snapshot{})
		}()
	}
	close(block)
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds capacity 2", peak)
	}
}

func TestWorkerExecuteCancelled(t *testing.T) {
	// Occupy the only slot so the second call blocks on the semaphore.
	block := make(chan struct{})
	occupied := make(chan struct{})
	w := New("w", []string{"r"}, 1, ExecutorFunc(func(ctx context.Context, snap task.Snapshot) (string, error) {
		close(occupied)
		<-block
		return "", nil
	}))

	go w.Execute(context.Background(), task.Snapshot{})
	<-occupied

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Execute(ctx, task.Snapshot{})
	if err == nil {
		t.Error("expected error when context cancelled while waiting for a slot")
	}
	close(block)
}

func TestWorkerCan(t *testing.T) {
	w := New("w", []string{"a", "b"}, 1, echoExecutor())
	if !w.Can("a") || !w.Can("b") {
		t.Error("worker should declare its capabilities")
	}
	if w.Can("c") {
		t.Error("worker declared a capability it does not have")
	}
}
