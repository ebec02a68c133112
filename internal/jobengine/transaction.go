package jobengine

import "github.com/klyuchko/unitjob/pkg/unit"

// JobInfo is an immutable snapshot of a JobEntry copied out at the moment
// it is added, removed, or updated, so JobAffect never aliases live job
// state (see SPEC_FULL.md's "JobInfo snapshot struct" supplement).
type JobInfo struct {
	ID      unit.JobID
	Unit    unit.ID
	Kind    unit.JobKind
	RunKind unit.JobKind
	Result  unit.JobResult
	Attr    unit.JobAttr
}

func toJobInfo(j *JobEntry) JobInfo {
	return JobInfo{ID: j.ID, Unit: j.Unit, Kind: j.Kind, RunKind: j.RunKind, Result: j.Result, Attr: j.Attr}
}

// JobAffect accumulates the adds/dels/updates a transaction produces.
// Interested gates whether recording happens at all — a bulk caller that
// does not need per-job diagnostics can pass false and skip the copies
// entirely (SPEC_FULL.md's "JobAffect.interested flag" supplement).
type JobAffect struct {
	Adds    []JobInfo
	Dels    []JobInfo
	Updates []JobInfo

	interested bool
}

// NewJobAffect creates a JobAffect. When interested is false, record is a
// no-op and Adds/Dels/Updates stay empty.
func NewJobAffect(interested bool) *JobAffect {
	return &JobAffect{interested: interested}
}

func (a *JobAffect) record(adds, dels, updates []*JobEntry) {
	if a == nil || !a.interested {
		return
	}
	for _, j := range adds {
		a.Adds = append(a.Adds, toJobInfo(j))
	}
	for _, j := range dels {
		a.Dels = append(a.Dels, toJobInfo(j))
	}
	for _, j := range updates {
		a.Updates = append(a.Updates, toJobInfo(j))
	}
}

// Transaction is an ephemeral JobTable built up by expand/affect/verify and
// then composed into the live table by commit.
type Transaction struct {
	db    UnitDB
	alloc *Alloc
	stage *JobTable
}

// Exec runs the full expand → affect → verify → commit pipeline for a
// single caller request. On any failure the live table is left unchanged.
func (t *Transaction) Exec(db UnitDB, alloc *Alloc, live *JobTable, u unit.ID, kind unit.JobKind, mode unit.JobMode, affect *JobAffect) error {
	if mode == unit.ModeIsolate && kind != unit.JobStart {
		return newErr(KindInput, "isolate requires kind=Start")
	}
	if mode == unit.ModeTrigger && kind != unit.JobStop {
		return newErr(KindInput, "trigger requires kind=Stop")
	}

	t.db = db
	t.alloc = alloc
	t.stage = NewJobTable(db)

	if err := t.expand(u, kind, mode); err != nil {
		return err
	}
	if err := t.affectStage(u, mode); err != nil {
		return err
	}
	if err := t.verify(live, mode); err != nil {
		return err
	}

	adds, dels, updates, err := live.Commit(t.stage, mode)
	if err != nil {
		return err
	}
	affect.record(adds, dels, updates)
	return nil
}

// expand inserts the (u, kind) job into the stage and, if it is new and
// the mode does not suppress dependency traversal, recurses across the
// dependency atoms relevant to kind. See SPEC_FULL.md's "new-only
// recursion guard" supplement.
func (t *Transaction) expand(u unit.ID, kind unit.JobKind, mode unit.JobMode) error {
	if !t.db.Exists(u) {
		return newErr(KindBadRequest, "unit not loadable: "+string(u))
	}
	_, isNew := t.stage.RecordSuspend(t.alloc, u, kind, mode)
	if !isNew {
		return nil
	}
	if mode == unit.ModeIgnoreDependencies || mode == unit.ModeIgnoreRequirements {
		return nil
	}

	switch kind {
	case unit.JobStart:
		return t.expandStart(u, mode)
	case unit.JobStop:
		return t.expandAtom(u, unit.AtomPropagateStop, unit.JobStop, mode, false)
	case unit.JobRestart, unit.JobTryRestart:
		if err := t.expandStart(u, mode); err != nil {
			return err
		}
		return t.expandAtom(u, unit.AtomPropagateRestart, unit.JobTryRestart, mode, false)
	case unit.JobReload, unit.JobTryReload:
		return t.expandAtom(u, unit.AtomPropagatesReloadTo, unit.JobTryReload, mode, false)
	default: // Verify, Nop: no recursion
		return nil
	}
}

// expandStart walks the four pull-in atom kinds a Start expansion pulls:
// plain Start, *Ignored Start (BadRequest tolerated), Verify, and Stop
// (plain and Ignored).
func (t *Transaction) expandStart(u unit.ID, mode unit.JobMode) error {
	if err := t.expandAtom(u, unit.AtomPullInStart, unit.JobStart, mode, false); err != nil {
		return err
	}
	if err := t.expandAtom(u, unit.AtomPullInStartIgnored, unit.JobStart, mode, true); err != nil {
		return err
	}
	if err := t.expandAtom(u, unit.AtomPullInVerify, unit.JobVerify, mode, false); err != nil {
		return err
	}
	if err := t.expandAtom(u, unit.AtomPullInStop, unit.JobStop, mode, false); err != nil {
		return err
	}
	return t.expandAtom(u, unit.AtomPullInStopIgnored, unit.JobStop, mode, true)
}

// expandAtom recurses expand for every target of atom from u. When
// ignoredOK is true a BadRequest from an unsatisfiable target is swallowed
// instead of aborting the whole expansion.
func (t *Transaction) expandAtom(u unit.ID, atom unit.Atom, childKind unit.JobKind, mode unit.JobMode, ignoredOK bool) error {
	for _, target := range t.db.Atoms(u, atom) {
		if err := t.expand(target, childKind, mode); err != nil {
			if ignoredOK && IsKind(err, KindBadRequest) {
				continue
			}
			return err
		}
	}
	return nil
}

// affectStage applies the Isolate/Trigger fan-out rules; other modes are a no-op.
func (t *Transaction) affectStage(primary unit.ID, mode unit.JobMode) error {
	switch mode {
	case unit.ModeIsolate:
		for _, u := range t.db.AllUnitIDs() {
			if _, present := t.stage.slots[u]; present {
				continue
			}
			if t.db.IgnoreOnIsolate(u) {
				continue
			}
			t.stage.RecordSuspend(t.alloc, u, unit.JobStop, mode)
		}
	case unit.ModeTrigger:
		for _, target := range t.db.Atoms(primary, unit.AtomTriggeredBy) {
			if _, present := t.stage.slots[target]; present {
				continue
			}
			t.stage.RecordSuspend(t.alloc, target, unit.JobStop, mode)
		}
	}
	return nil
}

// verify rejects an intra-conflicting stage outright, and an
// inter-conflicting stage unless the live jobs it would override are
// replaceable.
func (t *Transaction) verify(live *JobTable, mode unit.JobMode) error {
	for u, slot := range t.stage.slots {
		if slotConflict(slot) {
			return newErr(KindConflict, "intra-unit suspend conflict: "+string(u))
		}
	}
	for u, slot := range t.stage.slots {
		if !live.IsSuspendsConflictWith(u, slot) {
			continue
		}
		if mode == unit.ModeFail || !live.IsSuspendsReplaceWith(u, slot) {
			return newErr(KindConflict, "live job conflicts and is not replaceable: "+string(u))
		}
	}
	return nil
}

// Fallback propagates collateral damage when a job finishes with a
// non-Done result: dependents linked by a
// PropagateStartFailure/PropagateStopFailure atom have their matching
// suspends removed with result Dependency.
func Fallback(db UnitDB, live *JobTable, failedUnit unit.ID, failedKind unit.JobKind, affect *JobAffect) {
	var atom unit.Atom
	var kinds []unit.JobKind
	switch failedKind {
	case unit.JobStart, unit.JobVerify:
		atom, kinds = unit.AtomPropagateStartFailure, []unit.JobKind{unit.JobStart, unit.JobVerify}
	case unit.JobStop:
		atom, kinds = unit.AtomPropagateStopFailure, []unit.JobKind{unit.JobStop}
	default:
		return
	}
	for _, target := range db.Atoms(failedUnit, atom) {
		removed := live.RemoveSuspends(target, unit.ResultDependency, kinds...)
		if len(removed) > 0 {
			affect.record(nil, removed, nil)
		}
	}
}

// FallbackOrSelfStop is Fallback's caller-facing entry point: a finished
// job whose Attr.NoRelevancy is set had its kind rewritten by crash
// recovery (mergeTriggerMap) and can no longer be trusted to describe how
// far the interrupted original actually got, so propagating failure to
// dependents is unsound. Such a job stops its own unit instead of
// fanning out, matching do_remove_relation in the original.
func FallbackOrSelfStop(db UnitDB, alloc *Alloc, live *JobTable, affect *JobAffect, u unit.ID, fin *JobEntry) {
	if fin.Attr.NoRelevancy {
		var tx Transaction
		_ = tx.Exec(db, alloc, live, u, unit.JobStop, unit.ModeReplace, affect)
		return
	}
	Fallback(db, live, u, fin.Kind, affect)
}
