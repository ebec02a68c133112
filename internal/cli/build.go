package cli

import (
	"fmt"
	"time"

	"github.com/klyuchko/unitjob/internal/config"
	"github.com/klyuchko/unitjob/internal/jobengine"
	"github.com/klyuchko/unitjob/internal/journal"
	"github.com/klyuchko/unitjob/internal/metrics"
	"github.com/klyuchko/unitjob/internal/unitdb"
	"github.com/klyuchko/unitjob/internal/unitsubtype"
	"github.com/klyuchko/unitjob/pkg/unit"
)

func parseSubtypeKind(s string) (unitsubtype.Kind, error) {
	switch s {
	case "", "service":
		return unitsubtype.Service, nil
	case "socket":
		return unitsubtype.Socket, nil
	case "target":
		return unitsubtype.Target, nil
	case "mount":
		return unitsubtype.Mount, nil
	case "device":
		return unitsubtype.Device, nil
	case "timer":
		return unitsubtype.Timer, nil
	case "path":
		return unitsubtype.Path, nil
	case "slice":
		return unitsubtype.Slice, nil
	case "scope":
		return unitsubtype.Scope, nil
	default:
		return 0, fmt.Errorf("cli: unknown unit kind %q", s)
	}
}

// buildUnitDB registers every configured unit as a simulated subtype and
// wires its dependency atoms, including the reverse edges a forward
// Requires/Conflicts/TriggeredBy declaration implies.
func buildUnitDB(units []config.UnitConfig, notify unitsubtype.NotifyFunc, seed int64) (*unitdb.DB, map[unit.ID][]unit.ID, map[unit.ID][]unit.ID, error) {
	db := unitdb.New()
	atoms := make(map[unit.ID]map[unit.Atom][]unit.ID)
	onSuccess := make(map[unit.ID][]unit.ID)
	onFailure := make(map[unit.ID][]unit.ID)

	ensure := func(id unit.ID) map[unit.Atom][]unit.ID {
		m, ok := atoms[id]
		if !ok {
			m = make(map[unit.Atom][]unit.ID)
			atoms[id] = m
		}
		return m
	}
	add := func(id unit.ID, atom unit.Atom, target unit.ID) {
		m := ensure(id)
		m[atom] = append(m[atom], target)
	}

	for i, uc := range units {
		kind, err := parseSubtypeKind(uc.Kind)
		if err != nil {
			return nil, nil, nil, err
		}
		id := unit.ID(uc.ID)
		delay := time.Duration(uc.DelayMs) * time.Millisecond
		fake := unitsubtype.NewFake(id, kind, notify, delay, uc.FailRate, uc.Reloadable, seed+int64(i))
		db.Register(id, fake, unitdb.Config{IgnoreOnIsolate: uc.IgnoreOnIsolate})
		ensure(id)
	}

	for _, uc := range units {
		id := unit.ID(uc.ID)
		for _, dep := range uc.Requires {
			add(id, unit.AtomPullInStart, unit.ID(dep))
			add(unit.ID(dep), unit.AtomPropagateStop, id)
		}
		for _, dep := range uc.Wants {
			add(id, unit.AtomPullInStartIgnored, unit.ID(dep))
		}
		for _, dep := range uc.Conflicts {
			add(id, unit.AtomPullInStop, unit.ID(dep))
			add(unit.ID(dep), unit.AtomPullInStop, id)
		}
		for _, dep := range uc.After {
			add(id, unit.AtomAfter, unit.ID(dep))
		}
		for _, dep := range uc.Before {
			add(id, unit.AtomBefore, unit.ID(dep))
		}
		for _, src := range uc.TriggeredBy {
			add(unit.ID(src), unit.AtomTriggeredBy, id)
		}
		for _, tgt := range uc.OnSuccess {
			onSuccess[id] = append(onSuccess[id], unit.ID(tgt))
		}
		for _, tgt := range uc.OnFailure {
			onFailure[id] = append(onFailure[id], unit.ID(tgt))
		}
	}

	for id, m := range atoms {
		cfg := unitdb.Config{Atoms: m}
		for _, uc := range units {
			if unit.ID(uc.ID) == id {
				cfg.IgnoreOnIsolate = uc.IgnoreOnIsolate
				break
			}
		}
		sub, ok := db.Subtype(id)
		if !ok {
			continue
		}
		db.Register(id, sub, cfg)
	}

	return db, onSuccess, onFailure, nil
}

// newManager boots a Manager against cfg: registers units, opens the
// journal if configured, replays it, and wires OnSuccess/OnFailure
// fan-out. The returned *journal.Journal is nil when cfg.Journal.Path is
// empty; callers use it to Compact periodically and to Close on shutdown.
//
// Fake subtypes call back into the Manager asynchronously,
// but the Manager does not exist until after the units that reference
// it are registered, so notify closes over a pointer filled in once Boot
// returns rather than over the Manager itself.
func newManager(cfg *config.Config, mc *metrics.Collector) (*jobengine.Manager, *journal.Journal, error) {
	var mgr *jobengine.Manager
	notify := func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) {
		if mgr != nil {
			_ = mgr.NotifyStateChange(u, os, ns, flags)
		}
	}

	db, onSuccess, onFailure, err := buildUnitDB(cfg.Units, notify, 1)
	if err != nil {
		return nil, nil, err
	}

	var rel jobengine.Reliability
	var replay func(func(unit.ID, unit.JobKind, unit.JobAttr) error) error
	var j *journal.Journal

	if cfg.Journal.Path != "" {
		j, err = openJournal(cfg)
		if err != nil {
			return nil, nil, err
		}
		if mc != nil {
			j.SetMetrics(mc)
		}
		rel = j
		replay = func(apply func(unit.ID, unit.JobKind, unit.JobAttr) error) error {
			start := time.Now()
			err := replayJournal(cfg.Journal.Path, apply)
			if mc != nil {
				mc.SetReplayDuration(time.Since(start).Seconds())
			}
			return err
		}
	}

	mgr, err = jobengine.Boot(db, rel, replay)
	if err != nil {
		return nil, nil, err
	}
	mgr.SetSuccessTargets(func(u unit.ID) []unit.ID { return onSuccess[u] })
	mgr.SetFailureTargets(func(u unit.ID) []unit.ID { return onFailure[u] })
	if mc != nil {
		mgr.SetMetrics(mc)
	}
	return mgr, j, nil
}
