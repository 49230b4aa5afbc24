package engine

import (
	"slices"
	"sync"

	"github.com/tphakala/rtcore/internal/errors"
)

// NullStats describes one unit of a Null engine.
type NullStats struct {
	Name      string
	Cycles    uint64
	Frames    uint64
	Failures  uint64
	Silenced  uint64
	Outputs   []UnitID
	Destroyed bool
}

type nullUnit struct {
	stats    NullStats
	failNext int
}

// Null is an in-memory engine that records what it was asked to do. It
// guards its state with a mutex and is meant for tests and the CLI's
// software mode, not for production audio.
type Null struct {
	mu     sync.Mutex
	nextID UnitID
	units  map[UnitID]*nullUnit
}

// NewNull returns an empty Null engine.
func NewNull() *Null {
	return &Null{units: make(map[UnitID]*nullUnit)}
}

// Create adds a unit.
func (n *Null) Create(name string) (UnitID, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.units[n.nextID] = &nullUnit{stats: NullStats{Name: name}}
	return n.nextID, nil
}

// Destroy removes a unit and any connections to it.
func (n *Null) Destroy(id UnitID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.units[id]; !ok {
		return unknown(id)
	}
	delete(n.units, id)
	for _, u := range n.units {
		u.stats.Outputs = slices.DeleteFunc(u.stats.Outputs, func(out UnitID) bool { return out == id })
	}
	return nil
}

// Process records a cycle, or fails if FailNext armed the unit.
func (n *Null) Process(id UnitID, nFrames int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.units[id]
	if !ok {
		return ErrUnknownUnit
	}
	if u.failNext > 0 {
		u.failNext--
		u.stats.Failures++
		return ErrInjectedFailure
	}
	u.stats.Cycles++
	u.stats.Frames += uint64(nFrames)
	return nil
}

// Silence counts silenced cycles.
func (n *Null) Silence(id UnitID, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if u, ok := n.units[id]; ok {
		u.stats.Silenced++
	}
}

// Connect records an edge from one unit to another. Connecting twice is a no-op.
func (n *Null) Connect(from, to UnitID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	src, ok := n.units[from]
	if !ok {
		return unknown(from)
	}
	if _, ok := n.units[to]; !ok {
		return unknown(to)
	}
	if slices.Contains(src.stats.Outputs, to) {
		return nil
	}
	src.stats.Outputs = append(src.stats.Outputs, to)
	return nil
}

// FailNext makes the next count Process calls for id fail.
func (n *Null) FailNext(id UnitID, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.units[id]
	if !ok {
		return unknown(id)
	}
	u.failNext += count
	return nil
}

// Stats returns a copy of the unit's counters.
func (n *Null) Stats(id UnitID) (NullStats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.units[id]
	if !ok {
		return NullStats{Destroyed: true}, unknown(id)
	}
	st := u.stats
	st.Outputs = slices.Clone(u.stats.Outputs)
	return st, nil
}

// Len returns the number of live units.
func (n *Null) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.units)
}

func unknown(id UnitID) error {
	return errors.New(ErrUnknownUnit).
		Context("unit_id", uint32(id)).
		Build()
}
