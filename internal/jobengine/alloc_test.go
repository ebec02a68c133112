package jobengine

import (
	"testing"

	"github.com/klyuchko/unitjob/pkg/unit"
	"github.com/stretchr/testify/assert"
)

func TestAllocStartsAtOne(t *testing.T) {
	a := NewAlloc()
	assert.Equal(t, unit.JobID(1), a.Next())
	assert.Equal(t, unit.JobID(2), a.Next())
}

func TestAllocSkipsInUseOnWraparound(t *testing.T) {
	a := NewAlloc()
	a.next = ^unit.JobID(0) // the allocation after next wraps to 0, then 1
	inUse := map[unit.JobID]bool{1: true}
	a.InUse = func(id unit.JobID) bool { return inUse[id] }

	assert.Equal(t, ^unit.JobID(0), a.Next(), "the last id before overflow is still handed out")
	id := a.Next()
	assert.Equal(t, unit.JobID(2), id, "id 1 is in use, so wraparound must skip it")
}

func TestAllocRecoverAdvancesPastSeen(t *testing.T) {
	a := NewAlloc()
	a.Recover(41)
	assert.Equal(t, unit.JobID(42), a.Next())
}

func TestAllocRecoverIgnoresLowerSeen(t *testing.T) {
	a := NewAlloc()
	a.Next() // next is now 2
	a.Recover(0)
	assert.Equal(t, unit.JobID(2), a.Next())
}
