package host

import (
	"context"
	"runtime"
	"time"

	"github.com/tphakala/rtcore/internal/logger"
)

// Run drives the host from the calling goroutine: wait ProcessInterval,
// then run a cycle of FramesPerIteration frames, until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.ProcessInterval)
	defer ticker.Stop()

	frames := h.cfg.FramesPerIteration
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Cycle(frames)
		}
	}
}

// Start runs the interval driver on its own goroutine locked to an OS
// thread. Stop ends it.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return ErrClosed
	}
	if h.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.running = true
	h.stop = cancel
	h.done = done

	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		h.log.Info("processing thread started")
		_ = h.Run(ctx)
		h.log.Info("processing thread stopped")
	}()
	return nil
}

// Stop cancels the interval driver and waits for the processing goroutine
// to exit. It is a no-op when the host is not running.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	stop, done := h.stop, h.done
	h.running = false
	h.mu.Unlock()

	stop()
	<-done
	h.log.Debug("driver stopped", logger.Uint64("cycles", h.stats.cycles.Load()))
}

// Running reports whether the interval driver is active.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}
