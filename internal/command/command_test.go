package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/errors"
)

type recorder struct {
	seen []int
}

func appendCmd(v int) Command[recorder] {
	return func(r *recorder) error {
		r.seen = append(r.seen, v)
		return nil
	}
}

func TestSendDrainPreservesOrder(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, snd.Send(appendCmd(i)))
	}
	assert.Equal(t, 3, snd.Pending())

	var state recorder
	n := rcv.Drain(&state, 0, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, state.seen)
	assert.Zero(t, rcv.Len())
}

func TestDrainHonoursBudget(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	for i := range 5 {
		require.NoError(t, snd.Send(appendCmd(i)))
	}

	var state recorder
	assert.Equal(t, 2, rcv.Drain(&state, 2, nil))
	assert.Equal(t, []int{0, 1}, state.seen)
	assert.Equal(t, 3, rcv.Drain(&state, 10, nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, state.seen)
	assert.Zero(t, rcv.Drain(&state, 0, nil))
}

func TestDrainReportsCommandErrors(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	boom := fmt.Errorf("boom")
	require.NoError(t, snd.Send(appendCmd(1)))
	require.NoError(t, snd.Send(func(*recorder) error { return boom }))
	require.NoError(t, snd.Send(appendCmd(2)))

	var state recorder
	var errs []error
	n := rcv.Drain(&state, 0, func(err error) { errs = append(errs, err) })

	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2}, state.seen, "a failing command must not stop the drain")
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestSendRejectsNil(t *testing.T) {
	t.Parallel()

	snd, _ := New[recorder]()
	defer snd.Close()
	assert.ErrorIs(t, snd.Send(nil), ErrNilCommand)
}

func TestTryRecv(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()

	_, err := rcv.TryRecv()
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, snd.Send(appendCmd(7)))
	cmd, err := rcv.TryRecv()
	require.NoError(t, err)

	var state recorder
	require.NoError(t, cmd(&state))
	assert.Equal(t, []int{7}, state.seen)

	snd.Close()
	_, err = rcv.TryRecv()
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestCommandsQueuedBeforeLastSenderClosesStillArrive(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	clone := snd.Clone()

	require.NoError(t, snd.Send(appendCmd(1)))
	snd.Close()
	require.NoError(t, clone.Send(appendCmd(2)))
	clone.Close()
	clone.Close()

	var state recorder
	for {
		cmd, err := rcv.TryRecv()
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, cmd(&state))
	}
	assert.Equal(t, []int{1, 2}, state.seen)
}

func TestClosedSenderAndReceiver(t *testing.T) {
	t.Parallel()

	t.Run("closed sender", func(t *testing.T) {
		t.Parallel()
		snd, _ := New[recorder]()
		snd.Close()
		assert.ErrorIs(t, snd.Send(appendCmd(1)), ErrQueueClosed)
		assert.ErrorIs(t, snd.Clone().Send(appendCmd(1)), ErrQueueClosed)
	})

	t.Run("closed receiver", func(t *testing.T) {
		t.Parallel()
		snd, rcv := New[recorder]()
		defer snd.Close()

		require.NoError(t, snd.Send(appendCmd(1)))
		rcv.Close()
		rcv.Close()

		assert.ErrorIs(t, snd.Send(appendCmd(2)), ErrQueueClosed)
		assert.Zero(t, rcv.Len(), "queued commands are dropped on close")

		_, err := rcv.TryRecv()
		assert.ErrorIs(t, err, ErrQueueClosed)
		assert.ErrorIs(t, snd.WaitProcess(time.Second), ErrQueueClosed)
	})
}

func TestRecvBlocksUntilSend(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = snd.Send(appendCmd(42))
	}()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	cmd, err := rcv.Recv(ctx)
	require.NoError(t, err)
	var state recorder
	require.NoError(t, cmd(&state))
	assert.Equal(t, []int{42}, state.seen)
}

func TestRecvContextCancelled(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := rcv.Recv(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestRecvWakesWhenLastSenderCloses(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		snd.Close()
	}()

	_, err := rcv.RecvTimeout(time.Second)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestRecvTimeout(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	start := time.Now()
	_, err := rcv.RecvTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitProcessReturnsAfterEarlierCommands(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	var state recorder
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			cmd, err := rcv.RecvTimeout(5 * time.Millisecond)
			if err != nil {
				continue
			}
			_ = cmd(&state)
		}
	})

	for i := range 100 {
		require.NoError(t, snd.Send(appendCmd(i)))
	}
	require.NoError(t, snd.WaitProcess(time.Second))

	close(stop)
	wg.Wait()

	require.Len(t, state.seen, 100)
	for i, v := range state.seen {
		assert.Equal(t, i, v)
	}
}

func TestWaitProcessTimesOutWhenNotDrained(t *testing.T) {
	t.Parallel()

	snd, rcv := New[recorder]()
	defer snd.Close()

	err := snd.WaitProcess(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// The marker is still queued and runs harmlessly later.
	var state recorder
	assert.Equal(t, 1, rcv.Drain(&state, 0, nil))
}

func TestConcurrentSendersKeepPerSenderOrder(t *testing.T) {
	t.Parallel()

	const (
		senders   = 8
		perSender = 200
	)

	snd, rcv := New[recorder]()

	var wg sync.WaitGroup
	for s := range senders {
		c := snd.Clone()
		wg.Go(func() {
			defer c.Close()
			for i := range perSender {
				assert.NoError(t, c.Send(appendCmd(s*perSender+i)))
			}
		})
	}
	snd.Close()

	var state recorder
	for {
		cmd, err := rcv.RecvTimeout(time.Second)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, cmd(&state))
	}
	wg.Wait()

	require.Len(t, state.seen, senders*perSender)
	last := make([]int, senders)
	for i := range last {
		last[i] = -1
	}
	for _, v := range state.seen {
		s, i := v/perSender, v%perSender
		assert.Greater(t, i, last[s], "commands from one sender must stay in order")
		last[s] = i
	}
}

type tally struct {
	n int
}

func bump(s *tally) error {
	s.n++
	return nil
}

func TestDrainDoesNotAllocate(t *testing.T) {
	snd, rcv := New[tally]()
	defer snd.Close()

	const runs = 100
	// AllocsPerRun makes one extra warm-up call.
	for range runs + 1 {
		require.NoError(t, snd.Send(bump))
	}

	var state tally
	allocs := testing.AllocsPerRun(runs, func() {
		rcv.Drain(&state, 1, nil)
	})
	assert.Zero(t, allocs)
	assert.Equal(t, runs+1, state.n)
	assert.Zero(t, rcv.Len())
}
