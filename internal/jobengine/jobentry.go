package jobengine

import (
	"time"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// JobEntry is a single pending operation against one unit.
//
// Kind is the job as the caller requested it; RunKind is the basic op
// currently being executed. For composite kinds (Restart, TryReload,
// TryRestart) RunKind starts out different from Kind and is advanced by
// Finish as each phase completes — see DESIGN.md's Restart-phase-order
// decision.
type JobEntry struct {
	ID      unit.JobID
	Unit    unit.ID
	Kind    unit.JobKind
	RunKind unit.JobKind
	Stage   unit.JobStage
	Attr    unit.JobAttr
	Result  unit.JobResult

	// StartedAt is set the moment the job first becomes the unit's
	// running trigger, for the metrics collector to time against at
	// Finish.
	StartedAt time.Time

	// Next is not set anywhere in this package and stays nil; UnitSlot
	// orders its suspends through its Suspends map and SQ slice instead.
	Next *JobEntry
}

// NewJobEntry allocates a fresh job at StageInit with RunKind seeded from
// Kind's first phase.
func NewJobEntry(id unit.JobID, u unit.ID, kind unit.JobKind, mode unit.JobMode) *JobEntry {
	return &JobEntry{
		ID:      id,
		Unit:    u,
		Kind:    kind,
		RunKind: firstPhase(kind),
		Stage:   unit.StageInit,
		Attr:    unit.InitAttr(mode),
	}
}

// firstPhase returns the basic operation a composite kind begins with.
func firstPhase(kind unit.JobKind) unit.JobKind {
	switch kind {
	case unit.JobRestart, unit.JobTryRestart:
		return unit.JobStop
	case unit.JobReload:
		return unit.JobReload
	case unit.JobTryReload:
		return unit.JobReload
	default:
		return kind
	}
}

// InitAttr overwrites the entry's attributes from mode, discarding any
// previously merged flags. Used only at creation; merging afterward goes
// through MergeAttr.
func (j *JobEntry) InitAttr(mode unit.JobMode) {
	j.Attr = unit.InitAttr(mode)
}

// MergeAttr widens j's attributes with other's: merging two jobs for the
// same unit never narrows either side's flags.
func (j *JobEntry) MergeAttr(other unit.JobAttr) {
	j.Attr.Merge(other)
}

// Wait transitions an Init job into the Wait stage, making it eligible for
// UnitSlot.TryTrigger.
func (j *JobEntry) Wait() {
	if j.Stage == unit.StageInit {
		j.Stage = unit.StageWait
	}
}

// Run transitions a Wait job into Running. It is a no-op, returning false,
// if the job is not currently waiting.
func (j *JobEntry) Run() bool {
	if j.Stage != unit.StageWait {
		return false
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now()
	}
	j.Stage = unit.StageRunning
	return true
}

// Finish records result and advances RunKind when the finished phase was
// not the job's final phase. It returns true when the job has more phases
// left to run (and so should return to StageWait rather than StageEnd).
func (j *JobEntry) Finish(result unit.JobResult) (more bool) {
	j.Result = result
	if result != unit.ResultDone {
		j.Stage = unit.StageEnd
		return false
	}
	if next, ok := nextPhase(j.Kind, j.RunKind); ok {
		j.RunKind = next
		j.Stage = unit.StageWait
		return true
	}
	j.Stage = unit.StageEnd
	return false
}

// nextPhase returns the phase following current for a composite kind.
func nextPhase(kind, current unit.JobKind) (unit.JobKind, bool) {
	switch kind {
	case unit.JobRestart, unit.JobTryRestart:
		if current == unit.JobStop {
			return unit.JobStart, true
		}
	}
	return unit.JobNop, false
}

// IsBasicOp reports whether the job's current run phase is a directly
// dispatchable operation (it always is; composite kinds only ever run one
// basic phase at a time).
func (j *JobEntry) IsBasicOp() bool {
	return j.RunKind.IsBasicOp()
}

// Done reports whether the job has reached a terminal stage.
func (j *JobEntry) Done() bool {
	return j.Stage == unit.StageEnd
}

// SameID reports whether j and other identify the same job.
func (j *JobEntry) SameID(other *JobEntry) bool {
	if j == nil || other == nil {
		return j == other
	}
	return j.ID == other.ID
}
