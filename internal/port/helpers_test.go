package port

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/command"
)

type cycleState struct{}

// queueScheduler queues port commands the way a host does; run applies
// them as the processing goroutine would at a cycle boundary.
type queueScheduler struct {
	snd  *command.Sender[cycleState]
	rcv  *command.Receiver[cycleState]
	errs []error
}

func newQueueScheduler(t *testing.T) *queueScheduler {
	t.Helper()
	snd, rcv := command.New[cycleState]()
	t.Cleanup(func() {
		snd.Close()
		rcv.Close()
	})
	return &queueScheduler{snd: snd, rcv: rcv}
}

func (q *queueScheduler) Schedule(fn func() error) error {
	return q.snd.Send(func(*cycleState) error { return fn() })
}

func (q *queueScheduler) run() int {
	var s cycleState
	return q.rcv.Drain(&s, 0, func(err error) { q.errs = append(q.errs, err) })
}

func newTestPool(t *testing.T, capacity, frames int) *bufferpool.Pool[float32] {
	t.Helper()
	pool, err := bufferpool.NewSamplePool(capacity, 0, frames)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newTestAudioPort(t *testing.T, sched Scheduler, pool *bufferpool.Pool[float32], name string, frames int) *AudioPort {
	t.Helper()
	p, err := NewAudioPort(AudioConfig{
		Name:           name,
		MaxFrames:      frames,
		MaxConnections: 4,
		MonitorSize:    frames * 4,
		OverflowPolicy: DropOldest,
	}, pool, sched)
	require.NoError(t, err)
	return p
}
