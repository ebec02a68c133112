package jobengine

import (
	"testing"

	"github.com/klyuchko/unitjob/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triggerFor(t *testing.T, table *JobTable, alloc *Alloc, u unit.ID, kind unit.JobKind, state unit.ActiveState) *JobEntry {
	t.Helper()
	table.RecordSuspend(alloc, u, kind, unit.ModeReplace)
	slot, ok := table.Slot(u)
	require.True(t, ok)
	slot.Reshuffle(state)
	chosen, _ := slot.TryTrigger()
	require.NotNil(t, chosen)
	slot.DoTrigger()
	return chosen
}

func TestTryFinishBuffersWhileRunning(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	b.SetRunning(true)

	err := b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{})
	require.NoError(t, err)

	slot, _ := live.Slot("nginx.service")
	require.NotNil(t, slot.Trigger, "buffered notification must not apply until flushed")

	err = b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInput))
}

func TestFlushPendingAppliesBufferedNotification(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	b.SetRunning(true)
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))

	require.NoError(t, b.FlushPending())

	_, ok := live.Slot("nginx.service")
	assert.False(t, ok, "a finished Start job must clear the trigger and empty the slot")

	require.NoError(t, b.FlushPending(), "flushing with nothing pending is a no-op")
}

func TestDoTryFinishStartReachesActiveIsDone(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	stats := NewStatistics()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	b := NewNotifyBridge(db, live, stats, alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))

	_, ok := live.Slot("nginx.service")
	assert.False(t, ok)
	_, _, results := stats.Snapshot()
	assert.Equal(t, int64(1), results[unit.ResultDone])
}

func TestDoTryFinishReportsFinishedMetric(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	stats := NewStatistics()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	b := NewNotifyBridge(db, live, stats, alloc, NewJobAffect(false))
	mc := &fakeMetrics{}
	b.metrics = mc

	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))
	assert.Equal(t, 1, mc.done)
	assert.Equal(t, 0, mc.failed)
}

func TestDoTryFinishStartReachesFailedIsInvalidAndFallsBack(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	db.add("dependent.service", &fakeSubtype{State: unit.StateInactive})
	db.setAtom("nginx.service", unit.AtomPropagateStartFailure, "dependent.service")
	live := NewJobTable(db)
	alloc := NewAlloc()
	live.RecordSuspend(alloc, "dependent.service", unit.JobStart, unit.ModeReplace)
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	affect := NewJobAffect(true)
	b := NewNotifyBridge(db, live, NewStatistics(), alloc, affect)
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateFailed, unit.NotifyFlags{}))

	_, ok := live.Slot("dependent.service")
	assert.False(t, ok, "PropagateStartFailure must cancel the dependent's queued Start")
}

func TestDoTryFinishStopReachesInactiveIsDone(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateDeActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStop, unit.StateActive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateDeActivating, unit.StateInactive, unit.NotifyFlags{}))

	_, ok := live.Slot("nginx.service")
	assert.False(t, ok)
}

func TestDoTryFinishVerifyReachesReloadingIsDone(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActive})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobVerify, unit.StateActive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActive, unit.StateReloading, unit.NotifyFlags{}))

	_, ok := live.Slot("nginx.service")
	assert.False(t, ok)
}

func TestDoTryFinishClearsPauseWithoutFinishing(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)
	slot, _ := live.Slot("nginx.service")
	slot.Pause = true
	slot.Dirty = false

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))

	assert.False(t, slot.Pause)
	assert.True(t, slot.Dirty)
	assert.NotNil(t, slot.Trigger, "clearing a pause must not finish the job itself")
}

func TestDoTryFinishUntrackedTransitionSynthesizesImplicit(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})
	live := NewJobTable(db)
	alloc := NewAlloc()
	stats := NewStatistics()

	b := NewNotifyBridge(db, live, stats, alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateInactive, unit.StateActive, unit.NotifyFlags{}))

	kinds, _, results := stats.Snapshot()
	assert.Equal(t, int64(1), kinds[unit.JobStart])
	assert.Equal(t, int64(1), results[unit.ResultDone])
}

func TestDoTryFinishUntrackedDownTransitionSynthesizesImplicitStop(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActive})
	live := NewJobTable(db)
	alloc := NewAlloc()
	stats := NewStatistics()

	b := NewNotifyBridge(db, live, stats, alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("nginx.service", unit.StateActive, unit.StateInactive, unit.NotifyFlags{}))

	kinds, _, _ := stats.Snapshot()
	assert.Equal(t, int64(1), kinds[unit.JobStop])
}

func TestNotifyFailureSuccessStartsOnFailureTargets(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateActivating})
	db.add("alert.service", &fakeSubtype{State: unit.StateInactive})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStart, unit.StateInactive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	b.OnFailureTargets = func(u unit.ID) []unit.ID {
		assert.Equal(t, unit.ID("nginx.service"), u)
		return []unit.ID{"alert.service"}
	}

	require.NoError(t, b.TryFinish("nginx.service", unit.StateActivating, unit.StateFailed, unit.NotifyFlags{}))

	slot, ok := live.Slot("alert.service")
	require.True(t, ok, "OnFailure target must get a queued Start")
	assert.Contains(t, slot.Suspends, unit.JobStart)
}

func TestNotifyFailureSuccessStartsOnSuccessTargetsFromActive(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateDeActivating})
	db.add("cleanup.service", &fakeSubtype{State: unit.StateInactive})
	live := NewJobTable(db)
	alloc := NewAlloc()
	triggerFor(t, live, alloc, "nginx.service", unit.JobStop, unit.StateActive)

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	b.OnSuccessTargets = func(u unit.ID) []unit.ID {
		return []unit.ID{"cleanup.service"}
	}

	require.NoError(t, b.TryFinish("nginx.service", unit.StateDeActivating, unit.StateInactive, unit.NotifyFlags{}))

	slot, ok := live.Slot("cleanup.service")
	require.True(t, ok)
	assert.Contains(t, slot.Suspends, unit.JobStart)
}

func TestNotifyTriggeredByFansOutToSubscribers(t *testing.T) {
	db := newFakeDB()
	db.add("socket.socket", &fakeSubtype{State: unit.StateActive})
	db.setAtom("socket.socket", unit.AtomTriggeredBy, "demo.service")
	live := NewJobTable(db)
	alloc := NewAlloc()

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))

	var gotUnit unit.ID
	var gotNS unit.ActiveState
	b.Subscribers = append(b.Subscribers, func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) {
		if u == "demo.service" {
			gotUnit = u
			gotNS = ns
		}
	})

	require.NoError(t, b.TryFinish("socket.socket", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))

	assert.Equal(t, unit.ID("demo.service"), gotUnit)
	assert.Equal(t, unit.StateActive, gotNS)
}

func TestNotifyTriggeredBySkippedWithoutSubscribers(t *testing.T) {
	db := newFakeDB()
	db.add("socket.socket", &fakeSubtype{State: unit.StateActive})
	db.setAtom("socket.socket", unit.AtomTriggeredBy, "demo.service")
	live := NewJobTable(db)
	alloc := NewAlloc()

	b := NewNotifyBridge(db, live, NewStatistics(), alloc, NewJobAffect(false))
	require.NoError(t, b.TryFinish("socket.socket", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))
}
