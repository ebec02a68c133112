package jobengine

import "github.com/klyuchko/unitjob/pkg/unit"

// fakeSubtype is a minimal UnitSubtype stand-in for jobengine's own unit
// tests — it never actually transitions state; callers set State and
// StartErr/StopErr/ReloadErr directly.
type fakeSubtype struct {
	State     unit.ActiveState
	StartErr  error
	StopErr   error
	ReloadErr error
}

func (f *fakeSubtype) CurrentActiveState() unit.ActiveState { return f.State }
func (f *fakeSubtype) Start() error                         { return f.StartErr }
func (f *fakeSubtype) Stop(force bool) error                 { return f.StopErr }
func (f *fakeSubtype) Reload() error                         { return f.ReloadErr }

// fakeDB is a minimal UnitDB stand-in exposing only what the tests need:
// registered units, per-id atom targets, and isolate tolerance.
type fakeDB struct {
	subtypes map[unit.ID]UnitSubtype
	atoms    map[unit.ID]map[unit.Atom][]unit.ID
	ignore   map[unit.ID]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		subtypes: make(map[unit.ID]UnitSubtype),
		atoms:    make(map[unit.ID]map[unit.Atom][]unit.ID),
		ignore:   make(map[unit.ID]bool),
	}
}

func (d *fakeDB) add(id unit.ID, sub UnitSubtype) {
	d.subtypes[id] = sub
}

func (d *fakeDB) setAtom(id unit.ID, atom unit.Atom, targets ...unit.ID) {
	if d.atoms[id] == nil {
		d.atoms[id] = make(map[unit.Atom][]unit.ID)
	}
	d.atoms[id][atom] = targets
}

func (d *fakeDB) Exists(id unit.ID) bool {
	_, ok := d.subtypes[id]
	return ok
}

func (d *fakeDB) Subtype(id unit.ID) (UnitSubtype, bool) {
	s, ok := d.subtypes[id]
	return s, ok
}

func (d *fakeDB) Atoms(id unit.ID, atom unit.Atom) []unit.ID {
	return d.atoms[id][atom]
}

func (d *fakeDB) IgnoreOnIsolate(id unit.ID) bool {
	return d.ignore[id]
}

func (d *fakeDB) AllUnitIDs() []unit.ID {
	ids := make([]unit.ID, 0, len(d.subtypes))
	for id := range d.subtypes {
		ids = append(ids, id)
	}
	return ids
}
