package jobengine

import (
	"time"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// pendingNotify is the single-slot re-entrant notification buffer: at most
// one buffered finish at a time; a second write while one is pending is an
// Input error.
type pendingNotify struct {
	unit  unit.ID
	os    unit.ActiveState
	ns    unit.ActiveState
	flags unit.NotifyFlags
}

// NotifyBridge accepts unit state transitions, decides whether they finish
// the unit's current job, and synthesizes implicit jobs for transitions no
// tracked job explains.
type NotifyBridge struct {
	db    UnitDB
	live  *JobTable
	stats *Statistics
	alloc *Alloc
	// affect accumulates jobs created/removed as a side effect of
	// notification handling (fallback propagation, OnFailure/OnSuccess).
	affect *JobAffect

	running bool
	pending *pendingNotify

	// metrics mirrors Dispatcher.metrics: doTryFinish finishes triggers
	// asynchronously reported by a subtype, a path Dispatcher.finish
	// never sees, so it needs its own RecordFinished call site.
	metrics Metrics

	// OnFailureTargets/OnSuccessTargets resolve a unit's OnFailure=/
	// OnSuccess= configured targets. Nil disables the corresponding
	// fan-out (config ownership is out of scope here).
	OnFailureTargets func(unit.ID) []unit.ID
	OnSuccessTargets func(unit.ID) []unit.ID

	// Subscribers receive every state-change notification the bridge
	// processes, grounding exec's subscribe_state.
	Subscribers []func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags)
}

// NewNotifyBridge wires a bridge against the live table it mutates.
func NewNotifyBridge(db UnitDB, live *JobTable, stats *Statistics, alloc *Alloc, affect *JobAffect) *NotifyBridge {
	return &NotifyBridge{db: db, live: live, stats: stats, alloc: alloc, affect: affect}
}

// SetRunning marks whether the Dispatcher's run loop currently holds the
// table; while true, TryFinish buffers instead of applying.
func (b *NotifyBridge) SetRunning(v bool) { b.running = v }

// TryFinish is the subtype's callback into the core. Called
// re-entrantly from within Dispatcher.Run, it buffers; called from
// anywhere else, it applies immediately.
func (b *NotifyBridge) TryFinish(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) error {
	if b.running {
		if b.pending != nil {
			return newErr(KindInput, "notify buffer already occupied (double finish)")
		}
		b.pending = &pendingNotify{unit: u, os: os, ns: ns, flags: flags}
		return nil
	}
	return b.doTryFinish(u, os, ns, flags)
}

// FlushPending applies and clears a buffered notification. Called by the
// Dispatcher once its run loop has returned.
func (b *NotifyBridge) FlushPending() error {
	if b.pending == nil {
		return nil
	}
	p := b.pending
	b.pending = nil
	return b.doTryFinish(p.unit, p.os, p.ns, p.flags)
}

// doTryFinish applies a subtype state transition: it finishes the
// current trigger if the transition matches its expected outcome, and
// otherwise synthesizes an implicit job for diagnostics.
func (b *NotifyBridge) doTryFinish(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) error {
	touched := false

	if slot, ok := b.live.Slot(u); ok && slot.Trigger != nil {
		if slot.Pause {
			slot.Pause = false
			slot.Dirty = true
			touched = true
		} else if result, done := jobProcessUnit(slot.Trigger.RunKind, ns, flags); done {
			if fin := b.live.FinishTrigger(u, result); fin != nil {
				b.stats.Update(fin)
				if b.metrics != nil {
					b.metrics.RecordFinished(result == unit.ResultDone, time.Since(fin.StartedAt).Seconds())
				}
				if result != unit.ResultDone {
					FallbackOrSelfStop(b.db, b.alloc, b.live, b.affect, u, fin)
				}
			}
			touched = true
		}
	}

	if !touched {
		b.synthesizeImplicit(u, os, ns)
	}

	b.notifyFailureSuccess(u, os, ns)
	b.notifyTriggeredBy(u, ns)

	for _, sub := range b.Subscribers {
		sub(u, os, ns, flags)
	}
	return nil
}

// jobProcessUnit is the pure function mapping a unit's new state to
// whether the job currently running runKind finishes, and with what
// result. ns=Failed finishes the job with ResultInvalid — no JobResult
// value denotes a generic asynchronous subtype failure more precisely.
func jobProcessUnit(runKind unit.JobKind, ns unit.ActiveState, flags unit.NotifyFlags) (result unit.JobResult, done bool) {
	switch runKind {
	case unit.JobStart, unit.JobTryRestart, unit.JobTryReload:
		switch ns {
		case unit.StateActive:
			return unit.ResultDone, true
		case unit.StateFailed:
			return unit.ResultInvalid, true
		}
	case unit.JobStop:
		switch ns {
		case unit.StateInactive:
			return unit.ResultDone, true
		case unit.StateFailed:
			return unit.ResultInvalid, true
		}
	case unit.JobReload:
		switch ns {
		case unit.StateActive:
			return unit.ResultDone, true
		case unit.StateFailed:
			return unit.ResultInvalid, true
		}
	case unit.JobVerify:
		switch ns {
		case unit.StateActive, unit.StateReloading:
			return unit.ResultDone, true
		case unit.StateFailed:
			return unit.ResultInvalid, true
		}
	}
	return unit.ResultInvalid, false
}

// synthesizeImplicit records a diagnostic-only implicit job for a
// transition no tracked job explains, so the transaction layer's
// auto-dependency bookkeeping (Statistics) stays informed without a real
// job being created.
func (b *NotifyBridge) synthesizeImplicit(u unit.ID, os, ns unit.ActiveState) {
	wasDown := os == unit.StateInactive || os == unit.StateFailed
	nowUp := ns == unit.StateActivating || ns == unit.StateActive
	wasUp := os == unit.StateActive || os == unit.StateActivating
	nowDown := ns == unit.StateInactive || ns == unit.StateDeActivating

	switch {
	case wasDown && nowUp:
		b.stats.RecordImplicit(unit.JobStart, unit.ResultDone)
	case wasUp && nowDown:
		b.stats.RecordImplicit(unit.JobStop, unit.ResultDone)
	}
}

// notifyFailureSuccess starts each unit's OnFailure=/OnSuccess= targets
// when ns lands on Failed, or on Inactive from a prior up state.
func (b *NotifyBridge) notifyFailureSuccess(u unit.ID, os, ns unit.ActiveState) {
	if ns == unit.StateFailed && b.OnFailureTargets != nil {
		for _, target := range b.OnFailureTargets(u) {
			var tx Transaction
			_ = tx.Exec(b.db, b.alloc, b.live, target, unit.JobStart, unit.ModeReplace, b.affect)
		}
	}
	if ns == unit.StateInactive && (os == unit.StateActive || os == unit.StateDeActivating) && b.OnSuccessTargets != nil {
		for _, target := range b.OnSuccessTargets(u) {
			var tx Transaction
			_ = tx.Exec(b.db, b.alloc, b.live, target, unit.JobStart, unit.ModeReplace, b.affect)
		}
	}
}

// notifyTriggeredBy reports the transition to every Subscriber once per
// unit related via AtomTriggeredBy (the socket→service activation
// pattern), labelled with that unit's id and an Inactive old state. It
// does nothing when no Subscribers are registered, and it does not queue
// jobs for the related units or change their state.
func (b *NotifyBridge) notifyTriggeredBy(u unit.ID, ns unit.ActiveState) {
	if b.db == nil || len(b.Subscribers) == 0 {
		return
	}
	for _, target := range b.db.Atoms(u, unit.AtomTriggeredBy) {
		for _, sub := range b.Subscribers {
			sub(target, unit.StateInactive, ns, unit.NotifyFlags{})
		}
	}
}
