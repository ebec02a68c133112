// Package unit defines the vocabulary shared between the job engine and its
// external collaborators: unit identity, job-kind/stage/attr/mode/result
// enumerations, and the observable unit active-state set.
//
// These are pure value types. The job engine treats a unit id as opaque;
// only the UnitDB collaborator resolves it to anything concrete.
package unit

import "fmt"

// ID identifies a unit of the form "<name>.<type>" (e.g. "nginx.service").
// The core never parses it; only UnitDB does.
type ID string

// JobID uniquely identifies a JobEntry. Zero is never a valid allocated id.
type JobID uint64

// JobKind is the primary enumeration of user-level intents.
type JobKind int

const (
	JobStart JobKind = iota
	JobStop
	JobReload
	JobRestart
	JobTryReload
	JobTryRestart
	JobVerify
	JobNop
)

func (k JobKind) String() string {
	switch k {
	case JobStart:
		return "start"
	case JobStop:
		return "stop"
	case JobReload:
		return "reload"
	case JobRestart:
		return "restart"
	case JobTryReload:
		return "try-reload"
	case JobTryRestart:
		return "try-restart"
	case JobVerify:
		return "verify"
	case JobNop:
		return "nop"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// ParseJobKind parses the String() form back into a JobKind, for CLI and
// API request handling.
func ParseJobKind(s string) (JobKind, error) {
	switch s {
	case "start":
		return JobStart, nil
	case "stop":
		return JobStop, nil
	case "reload":
		return JobReload, nil
	case "restart":
		return JobRestart, nil
	case "try-reload":
		return JobTryReload, nil
	case "try-restart":
		return JobTryRestart, nil
	case "verify":
		return JobVerify, nil
	case "nop":
		return JobNop, nil
	default:
		return 0, fmt.Errorf("unit: unknown job kind %q", s)
	}
}

// IsBasicOp reports whether the kind is a single, non-composite operation.
// Restart/TryReload/TryRestart expand into a sequence of basic ops.
func (k JobKind) IsBasicOp() bool {
	switch k {
	case JobStart, JobStop, JobReload, JobVerify, JobNop:
		return true
	default:
		return false
	}
}

// JobStage is the internal progress of a JobEntry.
type JobStage int

const (
	StageInit JobStage = iota
	StageWait
	StageRunning
	StageEnd
)

func (s JobStage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageWait:
		return "wait"
	case StageRunning:
		return "running"
	case StageEnd:
		return "end"
	default:
		return fmt.Sprintf("JobStage(%d)", int(s))
	}
}

// JobAttr holds per-job flags fixed at creation time by InitAttr and widened
// (never narrowed) by MergeAttr.
type JobAttr struct {
	IgnoreOrder    bool // skip After/Before checks at trigger time
	IgnoreConflict bool // allow destructive override during verify
	Force          bool // bypass running triggers
	NoRelevancy    bool // do not propagate stop on failure
	Irreversible   bool // protects this job from being replaced (see ModeReplaceIrreversible)
}

// Merge ORs boolean flags from other into attr, never weakening a flag
// already set.
func (a *JobAttr) Merge(other JobAttr) {
	a.IgnoreOrder = a.IgnoreOrder || other.IgnoreOrder
	a.IgnoreConflict = a.IgnoreConflict || other.IgnoreConflict
	a.Force = a.Force || other.Force
	a.NoRelevancy = a.NoRelevancy || other.NoRelevancy
	a.Irreversible = a.Irreversible || other.Irreversible
}

// JobMode is the user-level commit policy requested by a caller of exec.
type JobMode int

const (
	ModeFail JobMode = iota
	ModeReplace
	ModeReplaceIrreversible
	ModeIsolate
	ModeFlush
	ModeIgnoreDependencies
	ModeIgnoreRequirements
	ModeTrigger
)

func (m JobMode) String() string {
	switch m {
	case ModeFail:
		return "fail"
	case ModeReplace:
		return "replace"
	case ModeReplaceIrreversible:
		return "replace-irreversible"
	case ModeIsolate:
		return "isolate"
	case ModeFlush:
		return "flush"
	case ModeIgnoreDependencies:
		return "ignore-dependencies"
	case ModeIgnoreRequirements:
		return "ignore-requirements"
	case ModeTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("JobMode(%d)", int(m))
	}
}

// InitAttr derives a JobAttr from a commit mode.
func InitAttr(mode JobMode) JobAttr {
	var a JobAttr
	switch mode {
	case ModeReplaceIrreversible:
		a.IgnoreConflict = false
		a.Irreversible = true
	case ModeIgnoreDependencies, ModeIgnoreRequirements:
		a.IgnoreOrder = true
	}
	return a
}

// JobResult is the terminal outcome recorded on a JobEntry at StageEnd.
type JobResult int

const (
	ResultInvalid JobResult = iota
	ResultDone
	ResultCancelled
	ResultDependency
	ResultSkipped
	ResultMerged
	ResultAssert
	ResultUnsupported
	ResultCollected
	ResultOnceDone
)

func (r JobResult) String() string {
	switch r {
	case ResultDone:
		return "done"
	case ResultCancelled:
		return "cancelled"
	case ResultDependency:
		return "dependency"
	case ResultSkipped:
		return "skipped"
	case ResultMerged:
		return "merged"
	case ResultInvalid:
		return "invalid"
	case ResultAssert:
		return "assert"
	case ResultUnsupported:
		return "unsupported"
	case ResultCollected:
		return "collected"
	case ResultOnceDone:
		return "once-done"
	default:
		return fmt.Sprintf("JobResult(%d)", int(r))
	}
}

// ActiveState is a unit's observable state, consumed (not owned) by the job
// engine core.
type ActiveState int

const (
	StateInactive ActiveState = iota
	StateActivating
	StateActive
	StateReloading
	StateDeActivating
	StateFailed
	StateMaintenance
)

func (s ActiveState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateReloading:
		return "reloading"
	case StateDeActivating:
		return "deactivating"
	case StateFailed:
		return "failed"
	case StateMaintenance:
		return "maintenance"
	default:
		return fmt.Sprintf("ActiveState(%d)", int(s))
	}
}

// Atom is a typed dependency edge the transaction walks while expanding or
// affecting a transaction.
type Atom int

const (
	AtomPullInStart Atom = iota
	AtomPullInStartIgnored
	AtomPullInVerify
	AtomPullInStop
	AtomPullInStopIgnored
	AtomPropagateStop
	AtomPropagateRestart
	AtomPropagatesReloadTo
	AtomTriggeredBy
	AtomAfter
	AtomBefore
	AtomPropagateStartFailure
	AtomPropagateStopFailure
)

// NotifyFlags carries auxiliary information alongside a state-change
// notification (e.g. whether the transition was timeout-driven).
type NotifyFlags struct {
	Timeout bool
}
