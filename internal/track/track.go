// Package track owns the set of live worker processes spawned by this run.
package track

import (
	"os"
	"sync"
)

// Tracker maps each target to the process of its current run iteration.
// Runners replace their entry on every restart; the shutdown sequence reads
// a snapshot. Entries may reference processes that have already exited —
// consumers must probe liveness before signalling.
type Tracker struct {
	mu    sync.Mutex
	procs map[string]*os.Process
}

func NewTracker() *Tracker {
	return &Tracker{
		procs: make(map[string]*os.Process),
	}
}

// Register records the process of the target's current iteration,
// replacing the handle of any previous iteration.
func (t *Tracker) Register(target string, proc *os.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[target] = proc
}

// Remove prunes the target's entry, but only while it still refers to the
// given pid. A runner that already registered its next iteration keeps its
// newer handle.
func (t *Tracker) Remove(target string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if proc, ok := t.procs[target]; ok && proc.Pid == pid {
		delete(t.procs, target)
	}
}

// Snapshot returns a copy of the current tracking set.
func (t *Tracker) Snapshot() map[string]*os.Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]*os.Process, len(t.procs))
	for target, proc := range t.procs {
		snapshot[target] = proc
	}
	return snapshot
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}
