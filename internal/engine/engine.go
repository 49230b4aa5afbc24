// Package engine adapts an external processing engine to the host. The
// engine is a collaborator that only knows how to create, destroy,
// process and connect units; everything else stays on the host side.
package engine

import (
	"strconv"

	"github.com/tphakala/rtcore/internal/errors"
)

// ComponentEngine is the error component for this package.
const ComponentEngine = "engine"

var (
	// ErrUnknownUnit is returned for IDs the engine never created or already destroyed.
	ErrUnknownUnit = errors.Newf("unknown engine unit").
			Component(ComponentEngine).
			Category(errors.CategoryNotFound).
			Build()

	// ErrInjectedFailure is returned by Null.Process after FailNext.
	ErrInjectedFailure = errors.Newf("injected processing failure").
				Component(ComponentEngine).
				Category(errors.CategoryProcessing).
				Build()

	// ErrInvalidName is returned by Create for an empty unit name.
	ErrInvalidName = errors.Newf("unit name is empty").
			Component(ComponentEngine).
			Category(errors.CategoryValidation).
			Build()
)

// UnitID identifies a unit inside an engine.
type UnitID uint32

func (id UnitID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Engine is the external engine boundary. Process is called on the
// processing goroutine; the other methods on control goroutines.
type Engine interface {
	Create(name string) (UnitID, error)
	Destroy(id UnitID) error
	Process(id UnitID, nFrames int) error
	Connect(from, to UnitID) error
}

// Silencer is implemented by engines that can zero a unit's output after a
// failed cycle.
type Silencer interface {
	Silence(id UnitID, nFrames int)
}

// Unit runs one engine unit as part of the host graph.
type Unit struct {
	engine Engine
	id     UnitID
	name   string
	label  string
}

// NewUnit creates name in e and returns its host adapter.
func NewUnit(e Engine, name string) (*Unit, error) {
	id, err := e.Create(name)
	if err != nil {
		return nil, err
	}
	return &Unit{engine: e, id: id, name: name, label: name + "#" + id.String()}, nil
}

// ID returns "name#id", used in failure reports.
func (u *Unit) ID() string { return u.label }

// EngineID returns the engine-side ID.
func (u *Unit) EngineID() UnitID { return u.id }

// Name returns the name the unit was created with.
func (u *Unit) Name() string { return u.name }

// Process forwards the cycle to the engine.
func (u *Unit) Process(nFrames int) error {
	return u.engine.Process(u.id, nFrames)
}

// Silence zeroes the unit's output if the engine supports it.
func (u *Unit) Silence(nFrames int) {
	if s, ok := u.engine.(Silencer); ok {
		s.Silence(u.id, nFrames)
	}
}

// ConnectTo connects this unit's output to next.
func (u *Unit) ConnectTo(next *Unit) error {
	return u.engine.Connect(u.id, next.id)
}

// Destroy removes the unit from the engine. Unregister it from the host
// and wait for the host to process the removal first.
func (u *Unit) Destroy() error {
	return u.engine.Destroy(u.id)
}
