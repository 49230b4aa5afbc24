package bufferpool

import (
	"github.com/tphakala/rtcore/internal/errors"
)

// ComponentBufferPool identifies errors raised by this package
const ComponentBufferPool = "bufferpool"

var (
	// ErrInvalidConfig is returned when capacity or low-water mark are out of range
	ErrInvalidConfig = errors.Newf("invalid buffer pool configuration").
				Component(ComponentBufferPool).
				Category(errors.CategoryValidation).
				Build()

	// ErrExhausted is returned when no pooled buffer is available. It is a
	// prebuilt value so the real-time path can return it without allocating.
	ErrExhausted = errors.Newf("buffer pool exhausted").
			Component(ComponentBufferPool).
			Category(errors.CategoryLimit).
			Build()

	// ErrUnknownID is returned by Table for pool or buffer IDs it does not hold
	ErrUnknownID = errors.Newf("unknown pool or buffer id").
			Component(ComponentBufferPool).
			Category(errors.CategoryNotFound).
			Build()

	// ErrNotCheckedOut is returned when buffer data is requested for a pooled buffer
	ErrNotCheckedOut = errors.Newf("buffer is not checked out").
				Component(ComponentBufferPool).
				Category(errors.CategoryState).
				Build()
)

// ownershipViolation builds the panic value for a fatal ownership error.
func ownershipViolation(reason, pool string) *errors.EnhancedError {
	return errors.Newf("buffer ownership violation: %s", reason).
		Component(ComponentBufferPool).
		Category(errors.CategoryState).
		Priority(errors.PriorityCritical).
		Context("pool", pool).
		Build()
}
