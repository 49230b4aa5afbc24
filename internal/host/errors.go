package host

import (
	"github.com/tphakala/rtcore/internal/errors"
)

// ComponentHost identifies errors raised by this package
const ComponentHost = "host"

var (
	// ErrInvalidConfig is returned for out-of-range host settings
	ErrInvalidConfig = errors.Newf("invalid host configuration").
				Component(ComponentHost).
				Category(errors.CategoryValidation).
				Build()

	// ErrExhausted is returned when the unit graph is full
	ErrExhausted = errors.Newf("host unit slots exhausted").
			Component(ComponentHost).
			Category(errors.CategoryLimit).
			Build()

	// ErrProcessingFailure wraps an error returned by a unit during a cycle
	ErrProcessingFailure = errors.Newf("unit processing failed").
				Component(ComponentHost).
				Category(errors.CategoryProcessing).
				Build()

	// ErrAlreadyRunning is returned by Start on a running host
	ErrAlreadyRunning = errors.Newf("host already running").
				Component(ComponentHost).
				Category(errors.CategoryState).
				Build()

	// ErrClosed is returned by operations on a closed host
	ErrClosed = errors.Newf("host closed").
			Component(ComponentHost).
			Category(errors.CategoryState).
			Build()
)
