package jobengine

import (
	"errors"
	"time"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// Dispatcher is the single-threaded deferred event source that drives jobs
// from ready UnitSlots to completion. It never blocks: a
// subtype operation either returns promptly or reports ErrActionAgain,
// which self-pauses the slot until the subtype later calls back through
// NotifyBridge.
type Dispatcher struct {
	db      UnitDB
	live    *JobTable
	stats   *Statistics
	bridge  *NotifyBridge
	journal Reliability
	metrics Metrics
}

// NewDispatcher wires a dispatcher against the collaborators it drives.
func NewDispatcher(db UnitDB, live *JobTable, stats *Statistics, bridge *NotifyBridge) *Dispatcher {
	return &Dispatcher{db: db, live: live, stats: stats, bridge: bridge}
}

// Run drains ready slots — restricted to one unit if restrictTo is
// non-nil — until none remain, returning how many jobs it triggered.
// bridge.running brackets the whole loop so re-entrant TryFinish calls
// from inside a subtype op are buffered rather than applied immediately.
func (d *Dispatcher) Run(restrictTo *unit.ID) int {
	d.bridge.SetRunning(true)
	defer func() {
		d.bridge.SetRunning(false)
		d.bridge.FlushPending()
	}()

	count := 0
	for {
		chosen, slot, displaced := d.live.TryTrigger(restrictTo)
		if chosen == nil {
			break
		}
		count++
		if d.metrics != nil {
			d.metrics.RecordTriggered()
		}
		if displaced != nil {
			d.stats.Update(displaced)
		}
		if d.journal != nil {
			_ = d.journal.SetLastFrame(chosen.Unit)
		}
		d.runOne(slot, chosen)
	}
	return count
}

// runOne invokes the unit subtype operation for entry's current phase and
// maps its returned ActionError onto a terminal JobResult.
func (d *Dispatcher) runOne(slot *UnitSlot, entry *JobEntry) {
	slot.DoTrigger()

	switch entry.RunKind {
	case unit.JobVerify, unit.JobNop:
		d.finish(entry.Unit, unit.ResultDone)
		return
	}

	sub, ok := d.db.Subtype(entry.Unit)
	if !ok {
		d.finish(entry.Unit, unit.ResultSkipped)
		return
	}

	var err error
	switch entry.RunKind {
	case unit.JobStart:
		err = sub.Start()
	case unit.JobStop:
		err = sub.Stop(entry.Attr.Force)
	case unit.JobReload, unit.JobTryReload:
		err = sub.Reload()
	}

	if err == nil {
		// The subtype may already have reported completion synchronously
		// via NotifyBridge.TryFinish (buffered since we are running).
		return
	}
	switch {
	case errors.Is(err, unit.ErrActionAgain):
		slot.Pause = true
	case errors.Is(err, unit.ErrActionBadR):
		d.finish(entry.Unit, unit.ResultUnsupported)
	case errors.Is(err, unit.ErrActionUnsupported):
		d.finish(entry.Unit, unit.ResultUnsupported)
	default:
		d.finish(entry.Unit, unit.ResultInvalid)
	}
}

// finish removes u's trigger with result and propagates fallback on
// non-Done outcomes.
func (d *Dispatcher) finish(u unit.ID, result unit.JobResult) {
	fin := d.live.FinishTrigger(u, result)
	if fin == nil {
		return
	}
	d.stats.Update(fin)
	if d.journal != nil {
		_ = d.journal.ClearLastFrame()
		_ = d.journal.RemoveSuspend(fin.Unit, fin.Kind)
	}
	if d.metrics != nil {
		d.metrics.RecordFinished(result == unit.ResultDone, time.Since(fin.StartedAt).Seconds())
	}
	if result != unit.ResultDone {
		FallbackOrSelfStop(d.db, d.bridge.alloc, d.live, d.bridge.affect, u, fin)
	}
}
