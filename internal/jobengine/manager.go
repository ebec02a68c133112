package jobengine

import (
	"sync"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// Reliability is the persistence collaborator the Manager drives around
// every non-idempotent step. Implemented by
// internal/journal; nil disables persistence (e.g. in tests).
type Reliability interface {
	RecordSuspend(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error
	RemoveSuspend(u unit.ID, kind unit.JobKind) error
	SetLastFrame(u unit.ID) error
	ClearLastFrame() error
}

// Metrics is the optional observability collaborator the Manager,
// Dispatcher, and NotifyBridge report job lifecycle counts and
// latencies to. Implemented by internal/metrics.Collector; nil disables
// reporting (e.g. in tests).
type Metrics interface {
	RecordQueued()
	RecordTriggered()
	RecordFinished(done bool, triggerSeconds float64)
	RecordCancelled()
}

// Manager is the external façade exposed to callers: exec, cancel,
// stop_unit, start_unit, subscribe_state. It serializes every mutation
// behind one lock — exactly one goroutine ever touches the live table,
// dispatcher, or bridge at a time.
type Manager struct {
	mu sync.Mutex

	db         UnitDB
	alloc      *Alloc
	live       *JobTable
	stats      *Statistics
	bridge     *NotifyBridge
	dispatcher *Dispatcher
	journal    Reliability
	metrics    Metrics
}

// NewManager wires a fresh Manager against db. journal may be nil.
func NewManager(db UnitDB, journal Reliability) *Manager {
	alloc := NewAlloc()
	live := NewJobTable(db)
	stats := NewStatistics()
	affect := NewJobAffect(false)
	bridge := NewNotifyBridge(db, live, stats, alloc, affect)
	dispatcher := NewDispatcher(db, live, stats, bridge)
	dispatcher.journal = journal
	return &Manager{
		db: db, alloc: alloc, live: live, stats: stats,
		bridge: bridge, dispatcher: dispatcher, journal: journal,
	}
}

// Boot constructs a Manager and, if replay is non-nil, feeds it the
// journal's reconstructed suspend table before returning — so work
// queued before a restart or crash resumes instead of being lost. replay
// is expected to be internal/journal.Replay partially applied to a path;
// it is passed in rather than called directly so this package need not
// import internal/journal.
func Boot(db UnitDB, journal Reliability, replay func(apply func(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error) error) (*Manager, error) {
	m := NewManager(db, journal)
	if replay == nil {
		return m, nil
	}
	if err := replay(func(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error {
		m.ReplaySuspend(u, kind, attr)
		return nil
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// Exec stages and commits a transaction for (unitID, kind, mode), persists
// the resulting delta, then drains the dispatcher. Returns the affect
// describing everything the transaction added/removed/updated.
func (m *Manager) Exec(unitID unit.ID, kind unit.JobKind, mode unit.JobMode) (*JobAffect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	affect := NewJobAffect(true)
	var tx Transaction
	if err := tx.Exec(m.db, m.alloc, m.live, unitID, kind, mode, affect); err != nil {
		return nil, err
	}
	m.persist(affect)
	m.dispatcher.Run(nil)
	return affect, nil
}

// persist appends the committed delta to the journal. A suspend that goes
// on to become a trigger is removed from the journal separately, by the
// dispatcher's own finish path (see dispatcher.go) or by
// NotifyStateChange when a notification finishes it, once it actually
// completes rather than when this commit queued it.
func (m *Manager) persist(affect *JobAffect) {
	if m.metrics != nil {
		for range affect.Adds {
			m.metrics.RecordQueued()
		}
	}
	if m.journal == nil {
		return
	}
	for _, info := range affect.Adds {
		_ = m.journal.RecordSuspend(info.Unit, info.Kind, info.Attr)
	}
	for _, info := range affect.Dels {
		_ = m.journal.RemoveSuspend(info.Unit, info.Kind)
	}
}

// Cancel removes job id if it is a queued suspend.
func (m *Manager) Cancel(id unit.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, err := m.live.CancelByID(id)
	if err != nil {
		return err
	}
	m.stats.Update(removed)
	if m.journal != nil {
		_ = m.journal.RemoveSuspend(removed.Unit, removed.Kind)
	}
	if m.metrics != nil {
		m.metrics.RecordCancelled()
	}
	return nil
}

// StartUnit and StopUnit are thin wrappers over Exec.
func (m *Manager) StartUnit(unitID unit.ID) (*JobAffect, error) {
	return m.Exec(unitID, unit.JobStart, unit.ModeReplace)
}

func (m *Manager) StopUnit(unitID unit.ID) (*JobAffect, error) {
	return m.Exec(unitID, unit.JobStop, unit.ModeReplace)
}

// SetFailureTargets and SetSuccessTargets wire the OnFailure=/OnSuccess=
// unit relationships the bridge fans out through after a job finishes.
// Call before the first Exec/NotifyStateChange.
func (m *Manager) SetFailureTargets(fn func(unit.ID) []unit.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridge.OnFailureTargets = fn
}

func (m *Manager) SetSuccessTargets(fn func(unit.ID) []unit.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridge.OnSuccessTargets = fn
}

// SetMetrics wires the collector the Manager, its Dispatcher, and its
// NotifyBridge report lifecycle events to. Call before the first
// Exec/NotifyStateChange; nil disables reporting.
func (m *Manager) SetMetrics(mc Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mc
	m.dispatcher.metrics = mc
	m.bridge.metrics = mc
}

// SubscribeState registers an observer delivered every unit state-change
// notification the bridge processes.
func (m *Manager) SubscribeState(cb func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridge.Subscribers = append(m.bridge.Subscribers, cb)
}

// NotifyStateChange forwards a subtype's asynchronous transition into the
// bridge and drains any newly ready work it unblocks.
func (m *Manager) NotifyStateChange(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var before *JobEntry
	if slot, ok := m.live.Slot(u); ok {
		before = slot.Trigger
	}
	if err := m.bridge.TryFinish(u, os, ns, flags); err != nil {
		return err
	}
	if before != nil && before.Stage == unit.StageEnd && m.journal != nil {
		_ = m.journal.ClearLastFrame()
		_ = m.journal.RemoveSuspend(before.Unit, before.Kind)
	}
	m.dispatcher.Run(nil)
	return nil
}

// SuspendInfo is one row of a persistence snapshot (see SuspendSnapshot).
type SuspendInfo struct {
	Unit unit.ID
	Kind unit.JobKind
	Attr unit.JobAttr
}

// SuspendSnapshot returns every currently queued suspend across the live
// table, for a caller to hand to the journal's compactor. Running
// triggers are not included; they are represented in the journal by the
// last-frame marker instead (see internal/journal's reclassification on
// replay).
func (m *Manager) SuspendSnapshot() []SuspendInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SuspendInfo
	for u, slot := range m.live.slots {
		for kind, j := range slot.Suspends {
			out = append(out, SuspendInfo{Unit: u, Kind: kind, Attr: j.Attr})
		}
	}
	return out
}

// Stats exposes the diagnostic counters (C9).
func (m *Manager) Stats() *Statistics { return m.stats }

// TableCounts returns the current number of queued suspends and
// running triggers across the live table, for a caller to feed into
// Metrics.UpdateTableStats.
func (m *Manager) TableCounts() (pending, running int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range m.live.slots {
		pending += len(slot.Suspends)
		if slot.Trigger != nil {
			running++
		}
	}
	return pending, running
}

// Live exposes the underlying table for read-only inspection (status
// queries, tests). Callers must not mutate slots directly.
func (m *Manager) Live() *JobTable { return m.live }

// ReplaySuspend restores a job straight into the live table during
// journal replay, bypassing the transaction pipeline — boot recovery
// trusts the journal's own invariants and the reclassification its
// Replay already applied (see internal/journal's job_merge_trigger_map).
func (m *Manager) ReplaySuspend(u unit.ID, kind unit.JobKind, attr unit.JobAttr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.alloc.Next()
	j := &JobEntry{ID: id, Unit: u, Kind: kind, RunKind: firstPhase(kind), Stage: unit.StageWait, Attr: attr}
	slot, ok := m.live.slots[u]
	if !ok {
		slot = NewUnitSlot(u)
		m.live.slots[u] = slot
	}
	slot.InsertSuspend(j)
	m.live.byID[id] = j
	m.alloc.Recover(id)
}
