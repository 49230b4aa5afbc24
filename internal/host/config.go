package host

import (
	"time"

	"github.com/tphakala/rtcore/internal/errors"
)

// Config holds processing loop settings.
type Config struct {
	// ProcessInterval is the wait between cycles of the interval driver.
	ProcessInterval time.Duration
	// FramesPerIteration is the cycle size used by the interval driver.
	FramesPerIteration int
	// MaxFrames is the largest cycle any driver may request.
	MaxFrames int
	// CommandBudget bounds commands applied per cycle; 0 drains the queue.
	CommandBudget int
	// MaxUnits is the number of preallocated unit slots.
	MaxUnits int
	// FailureQueueSize is the capacity of the failure report channel.
	FailureQueueSize int
}

// DefaultConfig returns settings for a 48 kHz software host running
// 256-frame cycles.
func DefaultConfig() Config {
	return Config{
		ProcessInterval:    5333 * time.Microsecond,
		FramesPerIteration: 256,
		MaxFrames:          4096,
		CommandBudget:      0,
		MaxUnits:           64,
		FailureQueueSize:   256,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var field string
	switch {
	case c.ProcessInterval <= 0:
		field = "process_interval"
	case c.FramesPerIteration <= 0:
		field = "frames_per_iteration"
	case c.MaxFrames < c.FramesPerIteration:
		field = "max_frames"
	case c.CommandBudget < 0:
		field = "command_budget"
	case c.MaxUnits <= 0:
		field = "max_units"
	case c.FailureQueueSize <= 0:
		field = "failure_queue_size"
	default:
		return nil
	}
	return errors.New(ErrInvalidConfig).
		Context("field", field).
		Context("process_interval", c.ProcessInterval.String()).
		Context("frames_per_iteration", c.FramesPerIteration).
		Context("max_frames", c.MaxFrames).
		Context("command_budget", c.CommandBudget).
		Context("max_units", c.MaxUnits).
		Context("failure_queue_size", c.FailureQueueSize).
		Build()
}
