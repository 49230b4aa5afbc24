// Package telemetry reports processing failures and fatal conditions to an
// error tracker. Reporting is opt-in: without a DSN the Nop reporter is
// used and nothing leaves the process.
package telemetry

import (
	"time"

	"github.com/tphakala/rtcore/internal/logger"
)

// Reporter receives errors from control-side goroutines. Implementations
// may block on I/O and must never be called from the processing goroutine.
type Reporter interface {
	// ReportError sends a recoverable error with optional tags.
	ReportError(err error, tags map[string]string)
	// ReportFatal sends a panic value and stack captured before the process exits.
	ReportFatal(recovered any, stack []byte)
	// Flush waits up to timeout for queued events and reports whether all were sent.
	Flush(timeout time.Duration) bool
}

// Config controls error reporting.
type Config struct {
	Enabled     bool
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Debug       bool
}

// Nop discards every report.
type Nop struct{}

func (Nop) ReportError(error, map[string]string) {}
func (Nop) ReportFatal(any, []byte)              {}
func (Nop) Flush(time.Duration) bool             { return true }

// New returns a Sentry reporter when reporting is enabled and Nop otherwise.
func New(cfg Config, log logger.Logger, opts ...Option) (Reporter, error) {
	if log == nil {
		log = logger.Discard()
	}
	if !cfg.Enabled {
		log.Module("telemetry").Debug("error reporting disabled")
		return Nop{}, nil
	}
	return NewSentryReporter(cfg, log, opts...)
}
