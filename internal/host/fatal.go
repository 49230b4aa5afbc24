package host

import (
	"fmt"
	"time"

	"github.com/tphakala/rtcore/internal/logger"
)

// FatalHandler is called on the processing goroutine when a cycle panics.
// The default handler reports, flushes and re-panics, terminating the
// process; buffer ownership is undefined after a panic.
type FatalHandler func(recovered any, stack []byte)

const fatalFlushTimeout = 2 * time.Second

func (h *Host) defaultFatal(recovered any, stack []byte) {
	h.log.Error("panic on processing goroutine",
		logger.String("panic", fmt.Sprint(recovered)),
		logger.Uint64("cycle", h.stats.cycles.Load()),
		logger.String("stack", string(stack)))
	h.reporter.ReportFatal(recovered, stack)
	h.reporter.Flush(fatalFlushTimeout)
	_ = h.log.Flush()
	panic(recovered)
}
