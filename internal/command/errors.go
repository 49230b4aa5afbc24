package command

import (
	"github.com/tphakala/rtcore/internal/errors"
)

// ComponentCommand identifies errors raised by this package
const ComponentCommand = "command"

var (
	// ErrQueueClosed is returned when the peer end of the queue is gone
	ErrQueueClosed = errors.Newf("command queue closed").
			Component(ComponentCommand).
			Category(errors.CategoryState).
			Build()

	// ErrTimeout is returned when a receive or flush exceeds its deadline
	ErrTimeout = errors.Newf("command queue timeout").
			Component(ComponentCommand).
			Category(errors.CategoryTimeout).
			Build()

	// ErrEmpty is returned by TryRecv when nothing is queued
	ErrEmpty = errors.Newf("command queue empty").
			Component(ComponentCommand).
			Category(errors.CategoryState).
			Build()

	// ErrNilCommand is returned when sending a nil command
	ErrNilCommand = errors.Newf("nil command").
			Component(ComponentCommand).
			Category(errors.CategoryValidation).
			Build()
)
