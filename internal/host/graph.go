package host

import (
	"slices"
)

// Unit is anything the host runs once per cycle. Process and Silence are
// called only on the processing goroutine and must not block or allocate.
type Unit interface {
	// Process renders nFrames. A returned error silences the unit for the
	// cycle and is reported on a control goroutine.
	Process(nFrames int) error
	// Silence zeroes the unit's output for the current cycle.
	Silence(nFrames int)
}

// Identified units report an ID in failure logs.
type Identified interface {
	ID() string
}

// Graph is the state owned by the processing goroutine. Commands receive
// it as their argument.
type Graph struct {
	units []Unit
}

func newGraph(maxUnits int) Graph {
	return Graph{units: make([]Unit, 0, maxUnits)}
}

// Len returns the number of registered units.
func (g *Graph) Len() int {
	return len(g.units)
}

// add appends u within the preallocated capacity.
func (g *Graph) add(u Unit) error {
	if slices.Contains(g.units, u) {
		return nil
	}
	if len(g.units) == cap(g.units) {
		return ErrExhausted
	}
	g.units = append(g.units, u)
	return nil
}

func (g *Graph) remove(u Unit) bool {
	i := slices.Index(g.units, u)
	if i < 0 {
		return false
	}
	g.units = slices.Delete(g.units, i, i+1)
	return true
}

func unitID(u Unit) string {
	if id, ok := u.(Identified); ok {
		return id.ID()
	}
	return "unnamed"
}
