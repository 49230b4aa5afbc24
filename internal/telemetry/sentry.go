package telemetry

import (
	"fmt"
	"maps"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// ComponentTelemetry identifies errors raised by this package
const ComponentTelemetry = "telemetry"

// maxStackBytes bounds the stack attached to fatal events.
const maxStackBytes = 16 << 10

// Option configures a SentryReporter.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// SentryReporter sends events through a dedicated Sentry hub, leaving the
// SDK's global hub untouched.
type SentryReporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// NewSentryReporter creates a reporter for cfg.DSN.
func NewSentryReporter(cfg Config, log logger.Logger, opts ...Option) (*SentryReporter, error) {
	if log == nil {
		log = logger.Discard()
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}

	options := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: false,
		ServerName:       "", // keep the hostname out of events
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentTelemetry).
			Category(errors.CategoryIntegration).
			Context("operation", "sentry_init").
			Build()
	}

	r := &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: log.Module("telemetry"),
	}
	r.log.Info("error reporting enabled",
		logger.String("dsn", cfg.DSN),
		logger.String("environment", cfg.Environment),
		logger.Float64("sample_rate", sampleRate))
	return r, nil
}

// ReportError sends err as an error event. Component and category of an
// EnhancedError become tags and the grouping fingerprint.
func (r *SentryReporter) ReportError(err error, tags map[string]string) {
	if err == nil {
		return
	}

	component, category := "unknown", string(errors.CategoryGeneric)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		component, category = ee.GetComponent(), ee.GetCategory()
	}
	title := fmt.Sprintf("%s %s error", component, category)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetTag("component", component)
		scope.SetTag("category", category)
		if ee != nil {
			if ctx := ee.GetContext(); len(ctx) > 0 {
				scope.SetContext("error", maps.Clone(ctx))
			}
		}
		scope.SetFingerprint([]string{title})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = err.Error()
		event.Exception = []sentry.Exception{{
			Type:  title,
			Value: err.Error(),
		}}
		r.hub.CaptureEvent(event)
	})

	if ee != nil {
		ee.MarkReported()
	}
	r.log.Debug("error event sent",
		logger.String("component", component),
		logger.String("category", category))
}

// ReportFatal sends a fatal event with the panic value and stack.
func (r *SentryReporter) ReportFatal(recovered any, stack []byte) {
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}
	msg := fmt.Sprint(recovered)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "host")
		scope.SetContext("panic", map[string]any{
			"type":  fmt.Sprintf("%T", recovered),
			"stack": string(stack),
		})

		event := sentry.NewEvent()
		event.Level = sentry.LevelFatal
		event.Message = msg
		event.Exception = []sentry.Exception{{
			Type:  "processing goroutine panic",
			Value: msg,
		}}
		r.hub.CaptureEvent(event)
	})
}

// Flush waits for queued events.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
