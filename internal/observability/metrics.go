// Package observability exposes processing-core metrics in the Prometheus
// text format. Error telemetry lives in the telemetry package.
package observability

import (
	stdlog "log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/observability/metrics"
)

// ComponentObservability is the error component for this package.
const ComponentObservability = "observability"

// Metrics holds the registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry
	RTCore   *metrics.RTCoreMetrics
}

// NewMetrics creates a registry with the core collectors plus the Go
// runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	rtcoreMetrics, err := metrics.NewRTCoreMetrics(registry)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentObservability).
			Category(errors.CategoryConfiguration).
			Context("collector", "rtcore").
			Build()
	}

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.New(err).
			Component(ComponentObservability).
			Category(errors.CategoryConfiguration).
			Context("collector", "go").
			Build()
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errors.New(err).
			Component(ComponentObservability).
			Category(errors.CategoryConfiguration).
			Context("collector", "process").
			Build()
	}

	return &Metrics{
		registry: registry,
		RTCore:   rtcoreMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux, log logger.Logger) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(logWriter{log}, "", 0),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

// logWriter adapts a Logger to the promhttp error log.
type logWriter struct {
	log logger.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Warn("metrics handler error", logger.String("detail", string(p)))
	return len(p), nil
}
