package command

import (
	"sync/atomic"
)

type node[T any] struct {
	next atomic.Pointer[node[T]]
	cmd  Command[T]
}

// mpsc is an unbounded multi-producer single-consumer linked queue.
// Producers allocate a node and swap it into head; the single consumer
// follows next pointers from tail without locking or allocating.
type mpsc[T any] struct {
	head atomic.Pointer[node[T]]
	tail *node[T]
	size atomic.Int64
}

func newMPSC[T any]() *mpsc[T] {
	q := &mpsc[T]{}
	stub := &node[T]{}
	q.head.Store(stub)
	q.tail = stub
	return q
}

// push may be called from any goroutine.
func (q *mpsc[T]) push(cmd Command[T]) {
	n := &node[T]{cmd: cmd}
	q.size.Add(1)
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// pop must only be called by the consumer. A push that has swapped head
// but not yet linked its node is reported as empty; the producer's notify
// wakes the consumer once the link is visible.
func (q *mpsc[T]) pop() (Command[T], bool) {
	next := q.tail.next.Load()
	if next == nil {
		return nil, false
	}
	q.tail = next
	cmd := next.cmd
	next.cmd = nil
	q.size.Add(-1)
	return cmd, true
}

func (q *mpsc[T]) depth() int {
	return int(max(q.size.Load(), 0))
}
