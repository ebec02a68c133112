package jobengine

import "github.com/klyuchko/unitjob/pkg/unit"

// UnitSubtype is the closed capability surface every unit subtype
// exposes to the core. The subtype universe itself
// (service/socket/target/mount/...) is out of scope here; the core only
// ever calls through this interface.
type UnitSubtype interface {
	CurrentActiveState() unit.ActiveState
	Start() error
	Stop(force bool) error
	Reload() error
}

// UnitDB resolves unit identity and the dependency graph between units.
// The core treats a unit id as opaque and never parses config; it only
// asks UnitDB. Atoms(id, kind) returns the ids at the far end of every
// edge of the given kind originating at id.
type UnitDB interface {
	Exists(id unit.ID) bool
	Subtype(id unit.ID) (UnitSubtype, bool)
	Atoms(id unit.ID, atom unit.Atom) []unit.ID
	IgnoreOnIsolate(id unit.ID) bool
	AllUnitIDs() []unit.ID
}
