package port

import (
	"github.com/tphakala/rtcore/internal/errors"
)

// ComponentPort identifies errors raised by this package
const ComponentPort = "port"

var (
	// ErrInvalidConfig is returned for out-of-range port settings
	ErrInvalidConfig = errors.Newf("invalid port configuration").
				Component(ComponentPort).
				Category(errors.CategoryValidation).
				Build()

	// ErrPortClosed is returned by operations on a closed port
	ErrPortClosed = errors.Newf("port closed").
			Component(ComponentPort).
			Category(errors.CategoryState).
			Build()

	// ErrIncompatiblePeer is returned when connecting a port to itself or
	// to a peer whose buffers are smaller than the source's
	ErrIncompatiblePeer = errors.Newf("incompatible peer port").
				Component(ComponentPort).
				Category(errors.CategoryValidation).
				Build()

	// ErrTooManyConnections is returned on the processing goroutine when a
	// port's preallocated connection slots are full
	ErrTooManyConnections = errors.Newf("too many port connections").
				Component(ComponentPort).
				Category(errors.CategoryLimit).
				Build()

	// ErrFrameCount is returned when a cycle asks for more frames than the
	// port buffers hold
	ErrFrameCount = errors.Newf("frame count exceeds port buffer size").
			Component(ComponentPort).
			Category(errors.CategoryProcessing).
			Build()

	// ErrUnsupportedAudio is returned for WAV files that cannot be loaded
	ErrUnsupportedAudio = errors.Newf("unsupported audio file").
				Component(ComponentPort).
				Category(errors.CategoryFileParsing).
				Build()
)
