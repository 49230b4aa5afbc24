package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Endpoint serves /metrics over HTTP.
type Endpoint struct {
	listenAddress string
	metrics       *Metrics
	log           logger.Logger
}

// NewEndpoint creates an endpoint for listenAddress. A nil log discards.
func NewEndpoint(listenAddress string, m *Metrics, log logger.Logger) (*Endpoint, error) {
	if listenAddress == "" || m == nil {
		return nil, errors.Newf("metrics endpoint needs a listen address and metrics").
			Component(ComponentObservability).
			Category(errors.CategoryValidation).
			Context("listen", listenAddress).
			Build()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       m,
		log:           log.Module("metrics"),
	}, nil
}

// Run listens and serves until ctx is done, then shuts the server down
// gracefully. It returns nil on a clean shutdown.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component(ComponentObservability).
			Category(errors.CategoryNetwork).
			Context("listen", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux, e.log)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return errors.New(err).
			Component(ComponentObservability).
			Category(errors.CategoryNetwork).
			Build()
	case <-ctx.Done():
	}

	e.log.Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.log.Error("metrics endpoint shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}
