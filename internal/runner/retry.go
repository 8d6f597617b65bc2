package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/goalflow/internal/events"
	"github.com/aristath/goalflow/internal/task"
	"github.com/aristath/goalflow/internal/worker"
)

// RetryConfig configures exponential backoff between execution attempts.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages per-role circuit breakers. The breaker counts
// whole tasks, not individual attempts: a role whose tasks exhaust their
// retry budgets consecutively trips its breaker, and new tasks for that
// role fail immediately until the breaker half-opens.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakerRegistry creates a new breaker registry.
func NewBreakerRegistry(logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the given role, creating it on
// first use.
func (r *BreakerRegistry) Get(role string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[role]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        role,
		MaxRequests: 3,                // Test requests allowed in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("role", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a role failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[role] = cb
	return cb
}

// executeWithRetry runs a snapshot on a worker with exponential backoff
// under circuit breaker protection. A retry budget of N yields exactly
// N+1 executor invocations; the returned attempt count is exact. The
// breaker wraps the whole retry sequence as one sample, so breaker state
// never consumes a task's own budget: a task either gets every attempt
// its budget allows or, with the circuit already open, none at all.
// Context cancellation ends retrying immediately.
func (r *Runner) executeWithRetry(ctx context.Context, w *worker.Worker, snap task.Snapshot, retries int) (string, int, error) {
	cb := r.breakers.Get(snap.Role)

	var result string
	attempts := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		attempts++
		r.publish(events.TopicTask, events.TaskStartedEvent{
			ID:        snap.ID,
			Role:      snap.Role,
			WorkerID:  w.ID,
			Attempt:   attempts,
			Timestamp: time.Now(),
		})
		out, err := w.Execute(ctx, snap)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if attempts <= retries {
				r.publish(events.TopicTask, events.TaskRetryEvent{
					ID:        snap.ID,
					Attempt:   attempts,
					Err:       err,
					Timestamp: time.Now(),
				})
			}
			return err
		}

		result = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.Retry.InitialInterval
	policy.MaxInterval = r.cfg.Retry.MaxInterval
	policy.Multiplier = r.cfg.Retry.Multiplier
	policy.RandomizationFactor = r.cfg.Retry.RandomizationFactor
	policy.MaxElapsedTime = 0 // The attempt budget bounds retrying, not wall time

	bounded := backoff.WithMaxRetries(policy, uint64(retries))
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, backoff.Retry(operation, backoff.WithContext(bounded, ctx))
	})
	return result, attempts, err
}
