package worker

import (
	"sort"
	"sync"
)

// ResourceLocks provides per-resource mutual exclusion for concurrent
// task execution. Each resource key gets its own mutex, so tasks holding
// disjoint resources run concurrently while tasks sharing a resource
// serialize.
type ResourceLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-resource mutexes
}

// NewResourceLocks creates an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for one resource key, creating it on first use.
func (r *ResourceLocks) Lock(key string) {
	r.mu.Lock()
	lock, exists := r.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	// Acquire outside the manager lock to avoid contention.
	lock.Lock()
}

// Unlock releases the mutex for one resource key.
func (r *ResourceLocks) Unlock(key string) {
	r.mu.Lock()
	lock, exists := r.locks[key]
	r.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}

// LockAll acquires locks for all given keys. Keys are sorted before
// acquisition; two tasks locking overlapping sets always acquire in the
// same order, which prevents deadlock.
func (r *ResourceLocks) LockAll(keys []string) {
	if len(keys) == 0 {
		return
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	for _, key := range sorted {
		r.Lock(key)
	}
}

// UnlockAll releases locks in reverse sorted order, mirroring LockAll.
func (r *ResourceLocks) UnlockAll(keys []string) {
	if len(keys) == 0 {
		return
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}
