package jobengine

import (
	"sort"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// JobTable is the dual-indexed collection (by id, by unit) that backs both
// the live table and a transaction's ephemeral stage.
type JobTable struct {
	db    UnitDB
	byID  map[unit.JobID]*JobEntry
	slots map[unit.ID]*UnitSlot
}

// NewJobTable creates an empty table. db may be nil for a pure in-memory
// stage that is never asked to evaluate order or current state.
func NewJobTable(db UnitDB) *JobTable {
	return &JobTable{
		db:    db,
		byID:  make(map[unit.JobID]*JobEntry),
		slots: make(map[unit.ID]*UnitSlot),
	}
}

// Lookup returns the job with the given id, if any.
func (t *JobTable) Lookup(id unit.JobID) (*JobEntry, bool) {
	j, ok := t.byID[id]
	return j, ok
}

// Slot returns u's slot, if one exists.
func (t *JobTable) Slot(u unit.ID) (*UnitSlot, bool) {
	s, ok := t.slots[u]
	return s, ok
}

// Size returns the number of live jobs.
func (t *JobTable) Size() int {
	return len(t.byID)
}

func (t *JobTable) getOrCreateSlot(u unit.ID) *UnitSlot {
	s, ok := t.slots[u]
	if !ok {
		s = NewUnitSlot(u)
		t.slots[u] = s
	}
	return s
}

func (t *JobTable) currentState(u unit.ID) unit.ActiveState {
	if t.db == nil {
		return unit.StateInactive
	}
	sub, ok := t.db.Subtype(u)
	if !ok {
		return unit.StateInactive
	}
	return sub.CurrentActiveState()
}

// RecordSuspend idempotently inserts a suspend for (u, kind). Returns the
// resident entry (new or pre-existing) and whether a new entry was
// created — callers use the latter to decide whether to recurse into
// dependency expansion (L1).
func (t *JobTable) RecordSuspend(alloc *Alloc, u unit.ID, kind unit.JobKind, mode unit.JobMode) (*JobEntry, bool) {
	slot := t.getOrCreateSlot(u)
	if slot.Trigger != nil && slot.Trigger.Kind == kind {
		slot.Trigger.MergeAttr(unit.InitAttr(mode))
		return slot.Trigger, false
	}
	if existing, ok := slot.Suspends[kind]; ok {
		existing.MergeAttr(unit.InitAttr(mode))
		return existing, false
	}
	j := NewJobEntry(alloc.Next(), u, kind, mode)
	slot.InsertSuspend(j)
	t.byID[j.ID] = j
	return j, true
}

// Commit atomically composes stage into t. On any failure t is left
// unmodified.
func (t *JobTable) Commit(stage *JobTable, mode unit.JobMode) (adds, dels, updates []*JobEntry, err error) {
	for id := range stage.byID {
		if _, exists := t.byID[id]; exists {
			return nil, nil, nil, newErr(KindInternal, "commit: id already present in live table")
		}
	}

	if mode == unit.ModeIsolate || mode == unit.ModeFlush {
		for u, slot := range t.slots {
			if _, present := stage.slots[u]; present {
				continue
			}
			if t.db != nil && t.db.IgnoreOnIsolate(u) {
				continue
			}
			flushed := slot.FlushSuspends()
			for _, j := range flushed {
				delete(t.byID, j.ID)
			}
			dels = append(dels, flushed...)
		}
	}

	for u, sslot := range stage.slots {
		tslot := t.getOrCreateSlot(u)
		a, d, upd := tslot.MergeSuspends(sslot)
		for _, j := range a {
			t.byID[j.ID] = j
		}
		adds = append(adds, a...)
		dels = append(dels, d...)
		updates = append(updates, upd...)
	}

	for u, slot := range t.slots {
		if !slot.Dirty {
			continue
		}
		merged := slot.Reshuffle(t.currentState(u))
		for _, j := range merged {
			delete(t.byID, j.ID)
		}
		dels = append(dels, merged...)
		if slot.Empty() {
			delete(t.slots, u)
		}
	}

	return adds, dels, updates, nil
}

// sortedUnits returns slot keys in a stable order so TryTrigger scans the
// table deterministically.
func (t *JobTable) sortedUnits() []unit.ID {
	ids := make([]unit.ID, 0, len(t.slots))
	for u := range t.slots {
		ids = append(ids, u)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// orderSatisfied checks slot's head job against every After/Before atom
// UnitDB reports for its unit.
func (t *JobTable) orderSatisfied(slot *UnitSlot) bool {
	if t.db == nil || len(slot.SQ) == 0 {
		return true
	}
	head := slot.SQ[0]
	if head.Attr.IgnoreOrder || head.Kind == unit.JobNop {
		return true
	}
	for _, atom := range [...]unit.Atom{unit.AtomAfter, unit.AtomBefore} {
		for _, target := range t.db.Atoms(slot.Unit, atom) {
			other := t.slots[target]
			if !slot.IsNextTriggerOrderWith(other, atom) {
				return false
			}
		}
	}
	return true
}

// TryTrigger pops the next ready, order-satisfied slot and attempts to
// trigger it. If restrictTo is non-nil only that unit is considered.
func (t *JobTable) TryTrigger(restrictTo *unit.ID) (chosen *JobEntry, slot *UnitSlot, displaced *JobEntry) {
	if restrictTo != nil {
		s, ok := t.slots[*restrictTo]
		if !ok || s.Pause || !s.Ready || !t.orderSatisfied(s) {
			return nil, nil, nil
		}
		c, d := s.TryTrigger()
		return c, s, d
	}
	for _, u := range t.sortedUnits() {
		s := t.slots[u]
		if s.Pause || !s.Ready || !t.orderSatisfied(s) {
			continue
		}
		c, d := s.TryTrigger()
		if c != nil {
			return c, s, d
		}
	}
	return nil, nil, nil
}

// FinishTrigger records result on u's trigger and removes it from the
// slot unless the job requested another phase.
func (t *JobTable) FinishTrigger(u unit.ID, result unit.JobResult) *JobEntry {
	slot, ok := t.slots[u]
	if !ok {
		return nil
	}
	done := slot.FinishTrigger(result)
	if done != nil {
		delete(t.byID, done.ID)
		if slot.Empty() {
			delete(t.slots, u)
		}
	}
	return done
}

// RemoveSuspends removes and finishes the named suspend kinds of u.
func (t *JobTable) RemoveSuspends(u unit.ID, result unit.JobResult, kinds ...unit.JobKind) []*JobEntry {
	slot, ok := t.slots[u]
	if !ok {
		return nil
	}
	var removed []*JobEntry
	for _, k := range kinds {
		if j := slot.RemoveSuspend(k, result); j != nil {
			removed = append(removed, j)
			delete(t.byID, j.ID)
		}
	}
	if slot.Empty() {
		delete(t.slots, u)
	}
	return removed
}

// RemoveUnit cancels and removes every job (trigger and suspends) of u.
func (t *JobTable) RemoveUnit(u unit.ID) []*JobEntry {
	slot, ok := t.slots[u]
	if !ok {
		return nil
	}
	var removed []*JobEntry
	if slot.Trigger != nil {
		slot.Trigger.Finish(unit.ResultCancelled)
		removed = append(removed, slot.Trigger)
		delete(t.byID, slot.Trigger.ID)
		slot.Trigger = nil
	}
	flushed := slot.FlushSuspends()
	for _, j := range flushed {
		delete(t.byID, j.ID)
	}
	removed = append(removed, flushed...)
	delete(t.slots, u)
	return removed
}

// CancelByID removes and cancels a specific suspend job by id. Cancelling
// a running trigger is refused as NotSupported; the subtype is not asked to abort in-flight work.
func (t *JobTable) CancelByID(id unit.JobID) (*JobEntry, error) {
	j, ok := t.byID[id]
	if !ok {
		return nil, newErr(KindNotExisted, "job not found")
	}
	slot, ok := t.slots[j.Unit]
	if !ok {
		return nil, newErr(KindNotExisted, "job not found")
	}
	if slot.Trigger != nil && slot.Trigger.ID == id {
		return nil, newErr(KindNotSupported, "cannot cancel a running trigger")
	}
	removed := slot.RemoveSuspend(j.Kind, unit.ResultCancelled)
	if removed == nil {
		return nil, newErr(KindNotExisted, "job not found")
	}
	delete(t.byID, removed.ID)
	if slot.Empty() {
		delete(t.slots, j.Unit)
	}
	return removed, nil
}

// Coldplug re-evaluates a unit's slot against its current state after the
// unit is (re)loaded. Nothing here requires more than recomputing
// readiness, since the real coldplug state machine belongs to the
// out-of-scope unit subtype (see DESIGN.md).
func (t *JobTable) Coldplug(u unit.ID) {
	slot, ok := t.slots[u]
	if !ok {
		return
	}
	slot.Dirty = true
	slot.Reshuffle(t.currentState(u))
}

// IsSuspendsConflict reports whether u's own suspends violate I2 (a Stop
// coexisting with a mutating kind).
func (t *JobTable) IsSuspendsConflict(u unit.ID) bool {
	slot, ok := t.slots[u]
	if !ok {
		return false
	}
	return slotConflict(slot)
}

func slotConflict(slot *UnitSlot) bool {
	if _, hasStop := slot.Suspends[unit.JobStop]; !hasStop {
		return false
	}
	for k := range slot.Suspends {
		if k != unit.JobStop && k != unit.JobNop {
			return true
		}
	}
	return false
}

// IsSuspendsConflictWith reports whether other's pending work for u would
// be irreconcilable with u's current live state (Stop vs. any mutating
// kind, in either direction).
func (t *JobTable) IsSuspendsConflictWith(u unit.ID, other *UnitSlot) bool {
	live, ok := t.slots[u]
	if !ok || other == nil {
		return false
	}
	liveStop := hasKind(live, unit.JobStop) || (live.Trigger != nil && live.Trigger.Kind == unit.JobStop)
	liveMutating := hasMutating(live) || (live.Trigger != nil && isMutatingKind(live.Trigger.Kind))
	otherStop := hasKind(other, unit.JobStop)
	otherMutating := hasMutating(other)
	return (liveStop && otherMutating) || (otherStop && liveMutating)
}

// IsSuspendsReplaceWith reports whether other may destructively replace
// u's current suspends/trigger: refused only when doing so would cancel a
// job marked Irreversible (L4).
func (t *JobTable) IsSuspendsReplaceWith(u unit.ID, other *UnitSlot) bool {
	live, ok := t.slots[u]
	if !ok {
		return true
	}
	for k, j := range live.Suspends {
		if !j.Attr.Irreversible {
			continue
		}
		if _, stop := other.Suspends[unit.JobStop]; stop && k != unit.JobStop && k != unit.JobNop {
			return false
		}
		if _, restart := other.Suspends[unit.JobRestart]; restart && (k == unit.JobStart || k == unit.JobReload) {
			return false
		}
		if _, replaced := other.Suspends[k]; replaced {
			return false
		}
		if other.Trigger != nil && other.Trigger.Kind == k {
			return false
		}
	}
	if live.Trigger != nil && live.Trigger.Attr.Irreversible {
		if other.Trigger != nil || len(other.Suspends) > 0 {
			return false
		}
	}
	return true
}

func hasKind(slot *UnitSlot, k unit.JobKind) bool {
	_, ok := slot.Suspends[k]
	return ok
}

func hasMutating(slot *UnitSlot) bool {
	for k := range slot.Suspends {
		if isMutatingKind(k) {
			return true
		}
	}
	return false
}

func isMutatingKind(k unit.JobKind) bool {
	switch k {
	case unit.JobStart, unit.JobReload, unit.JobRestart, unit.JobTryReload, unit.JobTryRestart:
		return true
	default:
		return false
	}
}
