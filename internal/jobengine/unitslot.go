package jobengine

import "github.com/klyuchko/unitjob/pkg/unit"

// UnitSlot is the per-unit ordering and dispatch primitive: at
// most one triggered job plus a bounded set of suspended jobs, one per
// JobKind. Its entire purpose is to answer "can this unit run a job now,
// and if so which?"
type UnitSlot struct {
	Unit      unit.ID
	Trigger   *JobEntry
	Suspends  map[unit.JobKind]*JobEntry
	SQ        []*JobEntry
	Dirty     bool
	Pause     bool
	Ready     bool
	Retrigger bool
}

// NewUnitSlot creates an empty slot for u.
func NewUnitSlot(u unit.ID) *UnitSlot {
	return &UnitSlot{Unit: u, Suspends: make(map[unit.JobKind]*JobEntry)}
}

// Empty reports whether the slot has nothing left to track, making it a
// candidate for garbage collection during reshuffle.
func (s *UnitSlot) Empty() bool {
	return s.Trigger == nil && len(s.Suspends) == 0
}

// InsertSuspend adds j as a suspend of its kind. Refuses a duplicate kind
// (the caller should MergeAttr into the existing entry instead, per L1).
// Marks the slot dirty and invalidates the materialized sq.
func (s *UnitSlot) InsertSuspend(j *JobEntry) bool {
	if _, exists := s.Suspends[j.Kind]; exists {
		return false
	}
	s.Suspends[j.Kind] = j
	s.Dirty = true
	s.SQ = nil
	return true
}

// RemoveSuspend removes and finishes the suspend of the given kind, if any.
func (s *UnitSlot) RemoveSuspend(kind unit.JobKind, result unit.JobResult) *JobEntry {
	j, ok := s.Suspends[kind]
	if !ok {
		return nil
	}
	delete(s.Suspends, kind)
	j.Finish(result)
	s.Dirty = true
	s.SQ = nil
	return j
}

// FlushSuspends cancels and removes every suspend. Used by Isolate/Flush
// commits.
func (s *UnitSlot) FlushSuspends() []*JobEntry {
	if len(s.Suspends) == 0 {
		return nil
	}
	flushed := make([]*JobEntry, 0, len(s.Suspends))
	for k, j := range s.Suspends {
		j.Finish(unit.ResultCancelled)
		flushed = append(flushed, j)
		delete(s.Suspends, k)
	}
	s.Dirty = true
	s.SQ = nil
	return flushed
}

// MergeSuspends unions other's suspends into s. A collision on the same
// kind widens attrs on the surviving entry (L1 idempotence); cross-kind
// conflicts (Stop vs. a mutating kind, Start vs. Reload, ...) are resolved
// afterward by Reshuffle, not here — merge only ever unions.
func (s *UnitSlot) MergeSuspends(other *UnitSlot) (added, removed, updated []*JobEntry) {
	if other == nil {
		return nil, nil, nil
	}
	for kind, j := range other.Suspends {
		if existing, ok := s.Suspends[kind]; ok {
			existing.MergeAttr(j.Attr)
			updated = append(updated, existing)
			continue
		}
		s.Suspends[kind] = j
		added = append(added, j)
	}
	if len(added) > 0 || len(updated) > 0 {
		s.Dirty = true
		s.SQ = nil
	}
	return added, removed, updated
}

var mutatingKinds = []unit.JobKind{
	unit.JobRestart, unit.JobStart, unit.JobReload,
	unit.JobTryRestart, unit.JobTryReload,
}

// Reshuffle re-orders a dirty slot and applies the intra-slot merge
// rules, returning every suspend that was dropped as a side effect
// (reported to the caller with result Merged).
func (s *UnitSlot) Reshuffle(currentState unit.ActiveState) []*JobEntry {
	if !s.Dirty {
		return nil
	}
	var merged []*JobEntry

	if _, hasStop := s.Suspends[unit.JobStop]; hasStop {
		// I2: suspends must reduce to {Stop, Nop}.
		for k, j := range s.Suspends {
			if k == unit.JobStop || k == unit.JobNop {
				continue
			}
			j.Finish(unit.ResultMerged)
			merged = append(merged, j)
			delete(s.Suspends, k)
		}
	} else if _, hasRestart := s.Suspends[unit.JobRestart]; hasRestart {
		for _, k := range []unit.JobKind{unit.JobStart, unit.JobReload} {
			if j, ok := s.Suspends[k]; ok {
				j.Finish(unit.ResultMerged)
				merged = append(merged, j)
				delete(s.Suspends, k)
			}
		}
	} else if startJ, hasStart := s.Suspends[unit.JobStart]; hasStart {
		if reloadJ, hasReload := s.Suspends[unit.JobReload]; hasReload {
			keepReload := currentState == unit.StateActive || currentState == unit.StateReloading
			if keepReload {
				startJ.Finish(unit.ResultMerged)
				merged = append(merged, startJ)
				delete(s.Suspends, unit.JobStart)
			} else {
				reloadJ.Finish(unit.ResultMerged)
				merged = append(merged, reloadJ)
				delete(s.Suspends, unit.JobReload)
			}
		}
	}

	s.buildSQ()
	s.Dirty = false
	s.Ready = len(s.SQ) > 0 || s.Retrigger
	return merged
}

// buildSQ materializes the dispatch order from the surviving suspends:
// Stop alone if present, else at most one mutating kind followed by an
// optional Verify and an optional Nop (I5).
func (s *UnitSlot) buildSQ() {
	s.SQ = s.SQ[:0]
	if j, ok := s.Suspends[unit.JobStop]; ok {
		s.SQ = append(s.SQ, j)
		return
	}
	for _, k := range mutatingKinds {
		if j, ok := s.Suspends[k]; ok {
			s.SQ = append(s.SQ, j)
			break
		}
	}
	if j, ok := s.Suspends[unit.JobVerify]; ok {
		s.SQ = append(s.SQ, j)
	}
	if j, ok := s.Suspends[unit.JobNop]; ok {
		s.SQ = append(s.SQ, j)
	}
}

// hasNonNopWork reports whether the slot currently holds any job (trigger
// or suspend) other than Nop — the predicate After/Before ordering checks
// against the other side of the edge.
func (s *UnitSlot) hasNonNopWork() bool {
	if s.Trigger != nil && s.Trigger.Kind != unit.JobNop {
		return true
	}
	for k := range s.Suspends {
		if k != unit.JobNop {
			return true
		}
	}
	return false
}

// IsNextTriggerOrderWith reports whether s's head job may trigger given an
// ordering atom pointing at other. ignore_order and Nop
// jobs always proceed; otherwise an After/Before edge blocks triggering
// while the far side has any non-Nop job outstanding.
func (s *UnitSlot) IsNextTriggerOrderWith(other *UnitSlot, atom unit.Atom) bool {
	if len(s.SQ) == 0 {
		return true
	}
	head := s.SQ[0]
	if head.Attr.IgnoreOrder || head.Kind == unit.JobNop {
		return true
	}
	if other == nil {
		return true
	}
	switch atom {
	case unit.AtomAfter, unit.AtomBefore:
		return !other.hasNonNopWork()
	default:
		return true
	}
}

// TryTrigger promotes the slot's head job to trigger, if the slot is ready
// and not paused. It also handles the two trigger-already-present cases:
// resuming a retriggered job after Finish requested another phase, and
// displacing a running trigger when the head job is destructive enough to
// interrupt it (Force attr, or kind Stop/Restart); a head carrying
// IgnoreOrder never displaces.
func (s *UnitSlot) TryTrigger() (chosen, displaced *JobEntry) {
	if s.Pause || !s.Ready {
		return nil, nil
	}
	if s.Trigger != nil {
		if s.Retrigger {
			s.Trigger.Wait()
			s.Retrigger = false
			return s.Trigger, nil
		}
		if s.Trigger.Stage != unit.StageRunning || len(s.SQ) == 0 {
			return nil, nil
		}
		head := s.SQ[0]
		destructive := head.Attr.Force || head.RunKind == unit.JobStop || head.RunKind == unit.JobRestart
		if !destructive || head.Attr.IgnoreOrder {
			return nil, nil
		}
		displaced = s.Trigger
		displaced.Finish(unit.ResultMerged)
		s.SQ = s.SQ[1:]
		delete(s.Suspends, head.Kind)
		head.Wait()
		s.Trigger = head
		s.Ready = len(s.SQ) > 0
		return head, displaced
	}
	if len(s.SQ) == 0 {
		s.Ready = false
		return nil, nil
	}
	next := s.SQ[0]
	s.SQ = s.SQ[1:]
	delete(s.Suspends, next.Kind)
	next.Wait()
	s.Trigger = next
	s.Ready = len(s.SQ) > 0
	return next, nil
}

// DoTrigger advances the current trigger from Wait into Running, ready for
// the Dispatcher to invoke the corresponding unit subtype operation.
func (s *UnitSlot) DoTrigger() *JobEntry {
	if s.Trigger == nil {
		return nil
	}
	s.Trigger.Run()
	return s.Trigger
}

// FinishTrigger records the trigger's outcome. If the job has further
// phases to run (a composite kind mid-sequence), it stays installed as the
// trigger and nil is returned; otherwise it is removed from the slot and
// returned to the caller.
func (s *UnitSlot) FinishTrigger(result unit.JobResult) *JobEntry {
	if s.Trigger == nil {
		return nil
	}
	if more := s.Trigger.Finish(result); more {
		s.Retrigger = true
		s.Ready = true
		return nil
	}
	done := s.Trigger
	s.Trigger = nil
	s.Dirty = true
	return done
}
