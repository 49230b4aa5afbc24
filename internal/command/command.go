// Package command ships closures from control goroutines into the single
// processing goroutine that owns some state T.
//
// Any number of Senders may enqueue commands; exactly one Receiver applies
// them, in submission order. Send never blocks. The receiving side pops
// without locks or allocation, so Drain and TryRecv are safe to call on the
// real-time path. Recv, RecvTimeout and WaitProcess block and are meant for
// cycle boundaries and control goroutines.
//
// Commands cannot be cancelled once sent. A command that must be abortable
// has to check its own flag when it runs.
package command

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphakala/rtcore/internal/errors"
)

// Command mutates the receiver-owned state. It runs exactly once on the
// processing goroutine.
type Command[T any] func(*T) error

type shared[T any] struct {
	q              *mpsc[T]
	notify         chan struct{}
	receiverClosed atomic.Bool
	senders        atomic.Int64
}

func (s *shared[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Sender enqueues commands. Use Clone to hand an independent sender to
// another caller and Close when done with it.
type Sender[T any] struct {
	s      *shared[T]
	closed atomic.Bool
}

// Receiver applies commands. It is owned by a single goroutine.
type Receiver[T any] struct {
	s *shared[T]
}

// New creates a connected Sender and Receiver.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &shared[T]{
		q:      newMPSC[T](),
		notify: make(chan struct{}, 1),
	}
	s.senders.Store(1)
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Send enqueues cmd without blocking.
func (snd *Sender[T]) Send(cmd Command[T]) error {
	if cmd == nil {
		return ErrNilCommand
	}
	if snd.closed.Load() || snd.s.receiverClosed.Load() {
		return ErrQueueClosed
	}
	snd.s.q.push(cmd)
	snd.s.wake()
	return nil
}

// Clone returns an independent sender for the same queue. Cloning a closed
// sender yields a closed sender.
func (snd *Sender[T]) Clone() *Sender[T] {
	c := &Sender[T]{s: snd.s}
	if snd.closed.Load() {
		c.closed.Store(true)
		return c
	}
	snd.s.senders.Add(1)
	return c
}

// Close releases this sender. Once every sender is closed and the queue is
// drained, receives report ErrQueueClosed. Safe to call more than once.
func (snd *Sender[T]) Close() {
	if !snd.closed.CompareAndSwap(false, true) {
		return
	}
	if snd.s.senders.Add(-1) == 0 {
		snd.s.wake()
	}
}

// Pending returns the approximate number of queued commands.
func (snd *Sender[T]) Pending() int {
	return snd.s.q.depth()
}

// WaitProcess blocks until every command sent before the call has been
// applied, or returns ErrTimeout once timeout elapses. It must not be called
// from the processing goroutine.
func (snd *Sender[T]) WaitProcess(timeout time.Duration) error {
	done := make(chan struct{}, 1)
	marker := func(*T) error {
		done <- struct{}{}
		return nil
	}
	if err := snd.Send(marker); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.New(ErrTimeout).
			Context("operation", "wait_process").
			Context("timeout", timeout.String()).
			Context("pending", snd.Pending()).
			Build()
	}
}

// TryRecv pops the next command without blocking. It returns ErrEmpty when
// nothing is queued and ErrQueueClosed when the queue can deliver no more.
func (r *Receiver[T]) TryRecv() (Command[T], error) {
	if r.s.receiverClosed.Load() {
		return nil, ErrQueueClosed
	}
	if cmd, ok := r.s.q.pop(); ok {
		return cmd, nil
	}
	if r.s.senders.Load() == 0 {
		// A final push may have landed after the first pop.
		if cmd, ok := r.s.q.pop(); ok {
			return cmd, nil
		}
		return nil, ErrQueueClosed
	}
	return nil, ErrEmpty
}

// Recv blocks until a command arrives, the queue closes or ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (Command[T], error) {
	for {
		cmd, err := r.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return cmd, err
		}
		select {
		case <-r.s.notify:
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).
				Component(ComponentCommand).
				Category(errors.CategoryCancellation).
				Build()
		}
	}
}

// RecvTimeout is Recv bounded by d. It returns ErrTimeout when d elapses.
func (r *Receiver[T]) RecvTimeout(d time.Duration) (Command[T], error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		cmd, err := r.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return cmd, err
		}
		select {
		case <-r.s.notify:
		case <-timer.C:
			return nil, errors.New(ErrTimeout).
				Context("operation", "recv").
				Context("timeout", d.String()).
				Build()
		}
	}
}

// Drain applies up to budget queued commands to target, or every queued
// command when budget <= 0. Command errors are passed to onErr, which may
// be nil. It returns the number of commands applied and never blocks.
func (r *Receiver[T]) Drain(target *T, budget int, onErr func(error)) int {
	if r.s.receiverClosed.Load() {
		return 0
	}
	applied := 0
	for budget <= 0 || applied < budget {
		cmd, ok := r.s.q.pop()
		if !ok {
			break
		}
		applied++
		if err := cmd(target); err != nil && onErr != nil {
			onErr(err)
		}
	}
	return applied
}

// Close stops the queue. Further sends fail with ErrQueueClosed and queued
// commands are dropped without running.
func (r *Receiver[T]) Close() {
	if !r.s.receiverClosed.CompareAndSwap(false, true) {
		return
	}
	for {
		if _, ok := r.s.q.pop(); !ok {
			return
		}
	}
}

// Len returns the approximate number of queued commands.
func (r *Receiver[T]) Len() int {
	return r.s.q.depth()
}
