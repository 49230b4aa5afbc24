package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/errors"
)

// mockTransport implements sentry.Transport and keeps events in memory.
type mockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *mockTransport) Configure(_ sentry.ClientOptions) {} //nolint:gocritic // interface signature

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *mockTransport) Flush(time.Duration) bool              { return true }
func (t *mockTransport) FlushWithContext(context.Context) bool { return true }
func (t *mockTransport) Close()                                {}

func (t *mockTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

func newTestReporter(t *testing.T) (*SentryReporter, *mockTransport) {
	t.Helper()
	transport := &mockTransport{}
	r, err := NewSentryReporter(Config{Enabled: true, Environment: "test"}, nil, WithTransport(transport))
	require.NoError(t, err)
	return r, transport
}

func TestNewReturnsNopWhenDisabled(t *testing.T) {
	t.Parallel()

	r, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, r)
	assert.True(t, r.Flush(time.Millisecond))
}

func TestReportErrorTagsEnhancedError(t *testing.T) {
	t.Parallel()

	r, transport := newTestReporter(t)

	err := errors.Newf("unit failed").
		Component("host").
		Category(errors.CategoryProcessing).
		Context("unit", "osc-1").
		Build()
	r.ReportError(err, map[string]string{"host_id": "h1"})
	require.True(t, r.Flush(time.Second))

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, sentry.LevelError, ev.Level)
	assert.Equal(t, "host", ev.Tags["component"])
	assert.Equal(t, "processing", ev.Tags["category"])
	assert.Equal(t, "h1", ev.Tags["host_id"])
	require.Len(t, ev.Exception, 1)
	assert.Equal(t, "host processing error", ev.Exception[0].Type)
	assert.True(t, err.IsReported())
}

func TestReportErrorIgnoresNil(t *testing.T) {
	t.Parallel()

	r, transport := newTestReporter(t)
	r.ReportError(nil, nil)
	r.Flush(time.Second)
	assert.Empty(t, transport.Events())
}

func TestReportFatal(t *testing.T) {
	t.Parallel()

	r, transport := newTestReporter(t)
	r.ReportFatal("boom", []byte("goroutine 1 [running]"))
	require.True(t, r.Flush(time.Second))

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelFatal, events[0].Level)
	assert.Equal(t, "boom", events[0].Message)
}
