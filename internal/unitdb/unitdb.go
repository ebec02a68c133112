// Package unitdb is the in-memory reference implementation of the
// UnitDB collaborator: unit lookup plus dependency-atom enumeration. The
// on-disk unit configuration format that would populate a real database
// is out of scope here; callers Register units directly.
package unitdb

import (
	"sync"

	"github.com/klyuchko/unitjob/internal/jobengine"
	"github.com/klyuchko/unitjob/pkg/unit"
)

// Config is a unit's static configuration: its subtype-independent
// isolate behavior and the dependency atoms it participates in.
type Config struct {
	IgnoreOnIsolate bool
	Atoms           map[unit.Atom][]unit.ID
}

// DB is a concurrency-safe, in-memory unit registry satisfying
// jobengine.UnitDB.
type DB struct {
	mu       sync.RWMutex
	subtypes map[unit.ID]jobengine.UnitSubtype
	configs  map[unit.ID]Config
}

// New returns an empty database.
func New() *DB {
	return &DB{
		subtypes: make(map[unit.ID]jobengine.UnitSubtype),
		configs:  make(map[unit.ID]Config),
	}
}

// Register adds or replaces a unit's subtype handle and configuration.
func (db *DB) Register(id unit.ID, sub jobengine.UnitSubtype, cfg Config) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subtypes[id] = sub
	db.configs[id] = cfg
}

// Unregister removes a unit entirely (used when a unit file is deleted).
func (db *DB) Unregister(id unit.ID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subtypes, id)
	delete(db.configs, id)
}

func (db *DB) Exists(id unit.ID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.subtypes[id]
	return ok
}

func (db *DB) Subtype(id unit.ID) (jobengine.UnitSubtype, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.subtypes[id]
	return s, ok
}

// Atoms returns a defensive copy of the targets configured for (id, atom).
func (db *DB) Atoms(id unit.ID, atom unit.Atom) []unit.ID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	cfg, ok := db.configs[id]
	if !ok {
		return nil
	}
	targets := cfg.Atoms[atom]
	if len(targets) == 0 {
		return nil
	}
	out := make([]unit.ID, len(targets))
	copy(out, targets)
	return out
}

func (db *DB) IgnoreOnIsolate(id unit.ID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.configs[id].IgnoreOnIsolate
}

func (db *DB) AllUnitIDs() []unit.ID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ids := make([]unit.ID, 0, len(db.subtypes))
	for id := range db.subtypes {
		ids = append(ids, id)
	}
	return ids
}
