package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// suspendKey identifies one queued job in the reconstructed table.
type suspendKey struct {
	unit unit.ID
	kind unit.JobKind
}

// Replay reconstructs the suspend table from the on-disk log and invokes
// apply once per surviving entry, in unit order. A unit whose trigger
// was executing when the process crashed (the last SetLastFrame with no
// matching ClearLastFrame) has its queued kind reclassified through
// mergeTriggerMap first, since the log cannot tell us how far that job's
// subtype operation actually got.
func Replay(path string, apply func(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	suspends := make(map[suspendKey]unit.JobAttr)
	var frameUnit unit.ID

	dec := json.NewDecoder(f)
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			// A torn trailing write from a mid-append crash; everything
			// before it is still trustworthy.
			break
		}
		if !verifyChecksum(e) {
			break
		}
		switch e.Type {
		case EventSuspendSet:
			suspends[suspendKey{e.UnitID, e.Kind}] = e.Attr
		case EventSuspendClear:
			delete(suspends, suspendKey{e.UnitID, e.Kind})
		case EventFrame:
			frameUnit = e.UnitID
		}
	}

	if frameUnit != "" {
		reclassifyFrame(suspends, frameUnit)
	}

	keys := make([]suspendKey, 0, len(suspends))
	for key := range suspends {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].unit != keys[b].unit {
			return keys[a].unit < keys[b].unit
		}
		return keys[a].kind < keys[b].kind
	})
	for _, key := range keys {
		if err := apply(key.unit, key.kind, suspends[key]); err != nil {
			return err
		}
	}
	return nil
}

// reclassifyFrame rewrites the suspend-table entries for the unit whose
// trigger was in flight at crash time, replacing each with its
// mergeTriggerMap image. Start and Stop are idempotent enough to resume
// as themselves; everything else collapses to Restart, the only
// operation that is safe to run again regardless of how far the
// original got.
func reclassifyFrame(suspends map[suspendKey]unit.JobAttr, frameUnit unit.ID) {
	type rewrite struct {
		from suspendKey
		to   unit.JobKind
	}
	var rewrites []rewrite
	for key := range suspends {
		if key.unit != frameUnit {
			continue
		}
		if reclassified := mergeTriggerMap(key.kind); reclassified != key.kind {
			rewrites = append(rewrites, rewrite{from: key, to: reclassified})
		}
	}
	for _, r := range rewrites {
		attr := suspends[r.from]
		delete(suspends, r.from)
		to := suspendKey{unit: r.from.unit, kind: r.to}
		merged := attr
		// The recovered kind no longer matches what crashed mid-run, so a
		// failure of this job must not propagate to dependents (Fallback)
		// — it self-stops instead, since we cannot trust how far the
		// interrupted original got.
		merged.NoRelevancy = true
		if existing, ok := suspends[to]; ok {
			existing.Merge(attr)
			existing.NoRelevancy = true
			merged = existing
		}
		suspends[to] = merged
	}
}

// mergeTriggerMap reclassifies the kind of a job whose trigger was in
// flight when the process crashed. Start and Stop survive a crash
// mid-execution as themselves, since running either
// again on an already-settled unit is a no-op. Every other kind is
// reclassified to Restart, since it is the only operation whose effect
// is correct regardless of whether the interrupted run completed.
func mergeTriggerMap(kind unit.JobKind) unit.JobKind {
	switch kind {
	case unit.JobStart, unit.JobStop:
		return kind
	default:
		return unit.JobRestart
	}
}
