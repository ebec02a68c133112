// Package unitsubtype provides the closed tagged-union capability
// surface unit subtypes implement, plus a simulated implementation for
// tests and demos. The real cgroup/exec spawner and per-subtype state
// machines (service/socket/target/...) are out of scope; Fake stands in
// for all of them with a simulated worker loop — random delay, a
// configurable failure rate — repurposed from "execute a task" to
// "asynchronously transition a unit's active state and notify the core".
package unitsubtype

import (
	"math/rand"
	"sync"
	"time"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// Kind enumerates the closed subtype universe. The fake
// implementation stores it but does not branch on it; real subtypes
// would each have their own state machine.
type Kind int

const (
	Service Kind = iota
	Socket
	Target
	Mount
	Device
	Timer
	Path
	Slice
	Scope
)

// NotifyFunc is a subtype's callback into the core (jobengine.Manager's
// NotifyStateChange), kept as a plain function type here so this package
// never imports jobengine.
type NotifyFunc func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags)

// Fake simulates a unit subtype: Start/Stop move it through Activating/
// DeActivating into Active/Inactive after a random delay, failing at a
// configurable rate into Failed. Reload can be marked unsupported per
// instance, matching real subtypes like Device/Timer that do not support
// it.
type Fake struct {
	mu    sync.Mutex
	id    unit.ID
	kind  Kind
	state unit.ActiveState

	notify        NotifyFunc
	delay         time.Duration
	failRate      float64
	reloadable    bool
	rng           *rand.Rand
}

// NewFake constructs a simulated subtype for id, starting Inactive.
// notify is called asynchronously from a goroutine once Start/Stop
// "settles" — the caller is expected to route it into
// jobengine.Manager.NotifyStateChange.
func NewFake(id unit.ID, kind Kind, notify NotifyFunc, delay time.Duration, failRate float64, reloadable bool, seed int64) *Fake {
	return &Fake{
		id: id, kind: kind, state: unit.StateInactive,
		notify: notify, delay: delay, failRate: failRate,
		reloadable: reloadable,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (f *Fake) CurrentActiveState() unit.ActiveState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start transitions Activating immediately and settles to Active (or
// Failed) asynchronously, mirroring a real subtype that schedules I/O and
// returns promptly rather than blocking the core.
func (f *Fake) Start() error {
	f.mu.Lock()
	os := f.state
	f.state = unit.StateActivating
	f.mu.Unlock()
	go f.settle(os, unit.StateActive)
	return nil
}

// Stop transitions DeActivating immediately and settles to Inactive (or
// Failed) asynchronously. force is accepted but the simulation does not
// distinguish graceful from forced termination.
func (f *Fake) Stop(force bool) error {
	f.mu.Lock()
	os := f.state
	f.state = unit.StateDeActivating
	f.mu.Unlock()
	go f.settle(os, unit.StateInactive)
	return nil
}

// Reload settles back to Active without an intermediate Reloading
// notification when reloadable; otherwise it reports Unsupported
// synchronously, since not every subtype implements reload.
func (f *Fake) Reload() error {
	if !f.reloadable {
		return unit.ErrActionUnsupported
	}
	f.mu.Lock()
	os := f.state
	f.state = unit.StateReloading
	f.mu.Unlock()
	go f.settle(os, unit.StateActive)
	return nil
}

// settle simulates the CPU/IO-bound portion of start()/stop()/reload():
// a random delay up to f.delay, then a failRate chance of landing on
// Failed instead of the intended next state.
func (f *Fake) settle(os, intended unit.ActiveState) {
	f.mu.Lock()
	d := time.Duration(0)
	if f.delay > 0 {
		d = time.Duration(f.rng.Int63n(int64(f.delay)))
	}
	fail := f.rng.Float64() < f.failRate
	f.mu.Unlock()

	time.Sleep(d)

	f.mu.Lock()
	if fail {
		f.state = unit.StateFailed
	} else {
		f.state = intended
	}
	ns := f.state
	f.mu.Unlock()

	if f.notify != nil {
		f.notify(f.id, os, ns, unit.NotifyFlags{})
	}
}
