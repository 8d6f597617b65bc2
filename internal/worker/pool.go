package worker

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoWorker is returned when no registered worker declares the
// capability a task requires.
var ErrNoWorker = errors.New("no worker matches required capability")

// Pool holds the workers registered for a run. Workers are registered at
// startup and are not persisted.
type Pool struct {
	mu      sync.RWMutex
	workers []*Worker
	logger  *zap.Logger
}

// NewPool creates an empty pool. A nil logger is replaced with a no-op.
func NewPool(logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{logger: logger}
}

// Register adds a worker. Worker IDs must be unique within the pool.
func (p *Pool) Register(w *Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.workers {
		if existing.ID == w.ID {
			return fmt.Errorf("worker with ID %q already registered", w.ID)
		}
	}
	p.workers = append(p.workers, w)
	p.logger.Info("worker registered",
		zap.String("worker", w.ID),
		zap.Strings("capabilities", w.Capabilities),
		zap.Int64("capacity", w.Capacity))
	return nil
}

// Match returns the worker for a required capability. Among matching
// workers the one with the most free slots wins; ties fall back to
// registration order.
func (p *Pool) Match(role string) (*Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Worker
	var bestFree int64 = -1
	for _, w := range p.workers {
		if !w.Can(role) {
			continue
		}
		if free := w.Free(); free > bestFree {
			best = w
			bestFree = free
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoWorker, role)
	}
	return best, nil
}

// Workers returns all registered workers.
func (p *Pool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Worker(nil), p.workers...)
}
