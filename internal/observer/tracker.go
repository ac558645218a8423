// Package observer mitigates the observer effect: it tracks the
// guardian's own PID and any subprocess it spawns (e.g. a handle-count
// helper) so probes can exclude self-generated noise from their
// process samples.
package observer

import (
	"os"
	"sync"
)

// PIDTracker is a thread-safe registry of the guardian's own PID and
// all spawned helper PIDs.
type PIDTracker struct {
	mu       sync.RWMutex
	selfPID  int
	children map[int]string // pid -> helper name
}

// NewPIDTracker creates a PIDTracker seeded with the current process PID.
func NewPIDTracker() *PIDTracker {
	return &PIDTracker{
		selfPID:  os.Getpid(),
		children: make(map[int]string),
	}
}

// SelfPID returns the guardian's own process ID.
func (t *PIDTracker) SelfPID() int {
	return t.selfPID
}

// Add registers a spawned helper process PID with its name.
func (t *PIDTracker) Add(pid int, name string) {
	t.mu.Lock()
	t.children[pid] = name
	t.mu.Unlock()
}

// Remove unregisters a helper process PID, typically once it exits.
func (t *PIDTracker) Remove(pid int) {
	t.mu.Lock()
	delete(t.children, pid)
	t.mu.Unlock()
}

// IsOwnPID returns true if pid is the guardian itself or any tracked helper.
func (t *PIDTracker) IsOwnPID(pid int) bool {
	if pid == t.selfPID {
		return true
	}
	t.mu.RLock()
	_, ok := t.children[pid]
	t.mu.RUnlock()
	return ok
}

// AllPIDs returns the guardian's PID plus all currently tracked helper PIDs.
func (t *PIDTracker) AllPIDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pids := make([]int, 0, 1+len(t.children))
	pids = append(pids, t.selfPID)
	for pid := range t.children {
		pids = append(pids, pid)
	}
	return pids
}

// ChildCount returns the number of currently tracked helper PIDs.
func (t *PIDTracker) ChildCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.children)
}
