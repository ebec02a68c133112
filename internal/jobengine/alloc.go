package jobengine

import (
	"sync"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// Alloc hands out monotonically increasing JobIDs, wrapping around once
// the counter is exhausted, in place of a time-keyed id scheme —
// uniqueness, not time-ordering, is the only property the rest of the
// engine relies on.
//
// InUse, when set, is consulted for every candidate id, and ids it reports
// as still held by a live job are skipped.
type Alloc struct {
	mu    sync.Mutex
	next  unit.JobID
	InUse func(unit.JobID) bool
}

// NewAlloc starts counting from 1; zero is never allocated so callers can
// use it as a "no job" sentinel.
func NewAlloc() *Alloc {
	return &Alloc{next: 1}
}

// Next returns a fresh, currently-unused JobID.
func (a *Alloc) Next() unit.JobID {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		id := a.next
		if id == 0 {
			id = 1
			a.next = 1
		}
		a.next++
		if a.InUse == nil || !a.InUse(id) {
			return id
		}
	}
}

// Recover advances the allocator past every id the caller has already seen
// (e.g. a JobTable replayed from the journal after a crash), so freshly
// issued ids never collide with surviving jobs.
func (a *Alloc) Recover(seen unit.JobID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seen >= a.next {
		a.next = seen + 1
	}
}
