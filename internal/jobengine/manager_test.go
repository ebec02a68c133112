package jobengine

import (
	"testing"

	"github.com/klyuchko/unitjob/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReliability struct {
	recorded    map[unit.ID]map[unit.JobKind]bool
	lastFrame   unit.ID
	clearCalled int
}

func newFakeReliability() *fakeReliability {
	return &fakeReliability{recorded: make(map[unit.ID]map[unit.JobKind]bool)}
}

func (f *fakeReliability) RecordSuspend(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error {
	if f.recorded[u] == nil {
		f.recorded[u] = make(map[unit.JobKind]bool)
	}
	f.recorded[u][kind] = true
	return nil
}

func (f *fakeReliability) RemoveSuspend(u unit.ID, kind unit.JobKind) error {
	delete(f.recorded[u], kind)
	return nil
}

func (f *fakeReliability) SetLastFrame(u unit.ID) error { f.lastFrame = u; return nil }
func (f *fakeReliability) ClearLastFrame() error         { f.clearCalled++; return nil }

type fakeMetrics struct {
	queued, triggered, done, failed, cancelled int
}

func (f *fakeMetrics) RecordQueued()    { f.queued++ }
func (f *fakeMetrics) RecordTriggered() { f.triggered++ }
func (f *fakeMetrics) RecordFinished(done bool, _ float64) {
	if done {
		f.done++
	} else {
		f.failed++
	}
}
func (f *fakeMetrics) RecordCancelled() { f.cancelled++ }

func TestManagerExecDrainsToCompletion(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})
	m := NewManager(db, nil)

	affect, err := m.StartUnit("nginx.service")
	require.NoError(t, err)
	assert.Len(t, affect.Adds, 1)

	slot, ok := m.Live().Slot("nginx.service")
	require.True(t, ok, "the job stays queued as a running trigger until the subtype confirms the transition")
	require.NotNil(t, slot.Trigger)

	require.NoError(t, m.NotifyStateChange("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))
	_, ok = m.Live().Slot("nginx.service")
	assert.False(t, ok)
}

func TestManagerExecPersistsAndClearsJournal(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})
	journal := newFakeReliability()
	m := NewManager(db, journal)

	_, err := m.StartUnit("nginx.service")
	require.NoError(t, err)
	assert.True(t, journal.recorded["nginx.service"][unit.JobStart])

	require.NoError(t, m.NotifyStateChange("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))

	assert.Empty(t, journal.recorded["nginx.service"], "a job that ran to completion is removed from the journal again")
	assert.Equal(t, 1, journal.clearCalled)
}

func TestManagerExecJournalsBlockedWork(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	journal := newFakeReliability()
	m := NewManager(db, journal)

	_, err := m.StartUnit("nginx.service")
	require.NoError(t, err)

	assert.True(t, journal.recorded["nginx.service"][unit.JobStart], "a paused job stays journaled until it finishes")
}

func TestManagerCancelRemovesQueuedJob(t *testing.T) {
	db := newFakeDB()
	db.add("a.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	db.add("b.service", &fakeSubtype{State: unit.StateInactive})
	db.setAtom("b.service", unit.AtomAfter, "a.service")
	journal := newFakeReliability()
	m := NewManager(db, journal)

	_, err := m.StartUnit("a.service")
	require.NoError(t, err)
	_, err = m.StartUnit("b.service")
	require.NoError(t, err)

	bSlot, ok := m.Live().Slot("b.service")
	require.True(t, ok)
	require.Nil(t, bSlot.Trigger, "b.service stays queued behind a.service's ordering atom")
	bJob := bSlot.Suspends[unit.JobStart]
	require.NotNil(t, bJob)

	require.NoError(t, m.Cancel(bJob.ID))
	_, ok = m.Live().Slot("b.service")
	assert.False(t, ok)
	assert.Empty(t, journal.recorded["b.service"], "Cancel must remove the job from the journal too")
}

func TestManagerReportsQueuedTriggeredAndFinishedMetrics(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})
	m := NewManager(db, nil)
	mc := &fakeMetrics{}
	m.SetMetrics(mc)

	_, err := m.StartUnit("nginx.service")
	require.NoError(t, err)
	assert.Equal(t, 1, mc.queued)
	assert.Equal(t, 1, mc.triggered)

	require.NoError(t, m.NotifyStateChange("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{}))
	assert.Equal(t, 1, mc.done)
	assert.Equal(t, 0, mc.failed)
}

func TestManagerReportsCancelledMetric(t *testing.T) {
	db := newFakeDB()
	db.add("a.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	db.add("b.service", &fakeSubtype{State: unit.StateInactive})
	db.setAtom("b.service", unit.AtomAfter, "a.service")
	m := NewManager(db, nil)
	mc := &fakeMetrics{}
	m.SetMetrics(mc)

	_, err := m.StartUnit("a.service")
	require.NoError(t, err)
	_, err = m.StartUnit("b.service")
	require.NoError(t, err)

	bSlot, ok := m.Live().Slot("b.service")
	require.True(t, ok)
	bJob := bSlot.Suspends[unit.JobStart]
	require.NotNil(t, bJob)

	require.NoError(t, m.Cancel(bJob.ID))
	assert.Equal(t, 1, mc.cancelled)
}

func TestManagerCancelByIDRefusesRunningTrigger(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	m := NewManager(db, nil)

	_, err := m.StartUnit("nginx.service")
	require.NoError(t, err)

	slot, _ := m.Live().Slot("nginx.service")
	require.NotNil(t, slot.Trigger)

	err = m.Cancel(slot.Trigger.ID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotSupported))
}

func TestManagerNotifyStateChangeDrivesPausedJobToCompletion(t *testing.T) {
	db := newFakeDB()
	sub := &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain}
	db.add("nginx.service", sub)
	m := NewManager(db, nil)

	_, err := m.StartUnit("nginx.service")
	require.NoError(t, err)
	_, ok := m.Live().Slot("nginx.service")
	require.True(t, ok, "a paused job must still be queued")

	sub.State = unit.StateActive
	err = m.NotifyStateChange("nginx.service", unit.StateActivating, unit.StateActive, unit.NotifyFlags{})
	require.NoError(t, err)

	_, ok = m.Live().Slot("nginx.service")
	assert.False(t, ok)
}

func TestManagerSubscribeStateReceivesNotifications(t *testing.T) {
	db := newFakeDB()
	db.add("socket.socket", &fakeSubtype{State: unit.StateActive})
	db.setAtom("socket.socket", unit.AtomTriggeredBy, "demo.service")
	m := NewManager(db, nil)

	var seen unit.ID
	m.SubscribeState(func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) {
		if u == "demo.service" {
			seen = u
		}
	})

	err := m.NotifyStateChange("socket.socket", unit.StateActivating, unit.StateActive, unit.NotifyFlags{})
	require.NoError(t, err)
	assert.Equal(t, unit.ID("demo.service"), seen)
}

func TestManagerSuspendSnapshotListsQueuedJobs(t *testing.T) {
	db := newFakeDB()
	db.add("a.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	db.add("b.service", &fakeSubtype{State: unit.StateInactive})
	db.setAtom("b.service", unit.AtomAfter, "a.service")
	m := NewManager(db, nil)

	_, err := m.StartUnit("a.service")
	require.NoError(t, err)
	_, err = m.StartUnit("b.service")
	require.NoError(t, err)

	snap := m.SuspendSnapshot()
	require.Len(t, snap, 1, "only b.service is still a queued (non-running) suspend")
	assert.Equal(t, unit.ID("b.service"), snap[0].Unit)
	assert.Equal(t, unit.JobStart, snap[0].Kind)
}

func TestManagerTableCountsSeparatesPendingFromRunning(t *testing.T) {
	db := newFakeDB()
	db.add("a.service", &fakeSubtype{State: unit.StateInactive, StartErr: unit.ErrActionAgain})
	db.add("b.service", &fakeSubtype{State: unit.StateInactive})
	db.setAtom("b.service", unit.AtomAfter, "a.service")
	m := NewManager(db, nil)

	_, err := m.StartUnit("a.service")
	require.NoError(t, err)
	_, err = m.StartUnit("b.service")
	require.NoError(t, err)

	pending, running := m.TableCounts()
	assert.Equal(t, 1, pending, "b.service is still queued behind a.service's ordering atom")
	assert.Equal(t, 1, running, "a.service is the running trigger")
}

func TestManagerReplaySuspendRestoresQueuedJob(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})
	m := NewManager(db, nil)

	m.ReplaySuspend("nginx.service", unit.JobStart, unit.JobAttr{})

	slot, ok := m.Live().Slot("nginx.service")
	require.True(t, ok)
	assert.Contains(t, slot.Suspends, unit.JobStart)
}

func TestBootReplaysJournaledWork(t *testing.T) {
	db := newFakeDB()
	db.add("nginx.service", &fakeSubtype{State: unit.StateInactive})

	replay := func(apply func(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error) error {
		return apply("nginx.service", unit.JobStart, unit.JobAttr{})
	}

	m, err := Boot(db, nil, replay)
	require.NoError(t, err)

	slot, ok := m.Live().Slot("nginx.service")
	require.True(t, ok)
	assert.Contains(t, slot.Suspends, unit.JobStart)
}

func TestBootWithoutReplayIsEmpty(t *testing.T) {
	db := newFakeDB()
	m, err := Boot(db, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Live().Size())
}
