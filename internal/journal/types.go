// Package journal is the crash-recovery log backing jobengine.Manager: an
// append-only record of queued suspend jobs and of which unit's trigger
// is currently executing, replayed on startup to rebuild the job table a
// crash interrupted. Adapted from a write-ahead log and snapshot
// compactor, folded into one package since here the "snapshot" is just a
// compacted rewrite of the same suspend table the log already describes.
package journal

import "github.com/klyuchko/unitjob/pkg/unit"

// EventType tags what a journal record mutates.
type EventType uint8

const (
	// EventSuspendSet records that (UnitID, Kind) is now queued with Attr.
	EventSuspendSet EventType = iota
	// EventSuspendClear records that (UnitID, Kind) is no longer queued,
	// either cancelled or because its trigger ran to completion.
	EventSuspendClear
	// EventFrame records which unit's trigger is currently executing.
	// UnitID is the running unit's id, or "" to mean no trigger is
	// in flight. Kind and Attr are unused.
	EventFrame
)

func (t EventType) String() string {
	switch t {
	case EventSuspendSet:
		return "suspend_set"
	case EventSuspendClear:
		return "suspend_clear"
	case EventFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Event is one append-only log record. Timestamp is deliberately absent
// from the checksum (see checksum.go) so a record verifies the same way
// on replay as it did on append.
type Event struct {
	Seq       uint64
	Type      EventType
	UnitID    unit.ID
	Kind      unit.JobKind
	Attr      unit.JobAttr
	Timestamp int64
	Checksum  uint32
}
