package host

import (
	"fmt"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// reportLoop turns failure records into logs, telemetry and observer
// calls. It runs on a control goroutine.
func (h *Host) reportLoop() {
	defer close(h.reporterDone)
	suppressed := 0
	for {
		select {
		case f := <-h.failures:
			h.report(f, &suppressed)
		case <-h.reporterStop:
			for {
				select {
				case f := <-h.failures:
					h.report(f, &suppressed)
				default:
					if suppressed > 0 {
						h.log.Warn("failure logs suppressed by rate limit",
							logger.Int("suppressed", suppressed))
					}
					return
				}
			}
		}
	}
}

func (h *Host) report(f Failure, suppressed *int) {
	err := h.failureError(f)

	if h.limiter.Allow() {
		fields := []logger.Field{
			logger.Error(err),
			logger.Uint64("cycle", f.Cycle),
		}
		if *suppressed > 0 {
			fields = append(fields, logger.Int("suppressed", *suppressed))
			*suppressed = 0
		}
		if f.Unit != nil {
			h.log.Warn("unit failed, output silenced for cycle", fields...)
		} else {
			h.log.Warn("queued command failed", fields...)
		}
	} else {
		*suppressed++
	}

	h.reporter.ReportError(err, map[string]string{"host_id": h.id})
	if h.observer != nil {
		h.observer(err)
	}
}

// failureError wraps the recorded error with host context. Unit errors
// match both ErrProcessingFailure and the original error.
func (h *Host) failureError(f Failure) *errors.EnhancedError {
	if f.Unit == nil {
		return errors.New(f.Err).
			Component(ComponentHost).
			Context("operation", "command").
			Context("cycle", f.Cycle).
			Build()
	}
	return errors.New(fmt.Errorf("%w: %w", ErrProcessingFailure, f.Err)).
		Component(ComponentHost).
		Category(errors.CategoryProcessing).
		Context("unit", unitID(f.Unit)).
		Context("cycle", f.Cycle).
		Context("frames", f.Frames).
		Build()
}
