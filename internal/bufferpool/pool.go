// Package bufferpool provides a capacity-bounded pool of fixed-size buffers
// for the real-time processing path.
//
// A Pool is stocked on creation and topped up by a background goroutine.
// Get never allocates and never blocks: it pops from the stocked free list
// or returns ErrExhausted. Creation happens only during warm-up and on the
// refill goroutine, and the number of live buffers never exceeds the pool
// capacity.
//
// Releasing a handle into a pool that does not own it, releasing nil, or
// releasing a handle twice panics. These are programmer errors and leave
// buffer ownership undefined, so they are not returned as errors.
package bufferpool

import (
	"context"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// Handle wraps exactly one pooled buffer. A handle is either checked out or
// pooled, tracked by an atomic flag.
type Handle[E any] struct {
	data       []E
	pool       *Pool[E]
	checkedOut atomic.Bool
	seq        uint64
}

// Data returns the buffer. The slice is only valid while the handle is
// checked out; a pooled handle returns nil.
func (h *Handle[E]) Data() []E {
	if !h.checkedOut.Load() {
		return nil
	}
	return h.data
}

// Len returns the buffer length in elements.
func (h *Handle[E]) Len() int {
	return len(h.data)
}

// Seq returns the creation sequence number of the buffer, starting at 1.
func (h *Handle[E]) Seq() uint64 {
	return h.seq
}

// Pointer returns the buffer as pointer plus length in elements for callers
// across a foreign boundary. The pointer must not be retained after the
// handle is released.
func (h *Handle[E]) Pointer() (unsafe.Pointer, int) {
	if !h.checkedOut.Load() || len(h.data) == 0 {
		return nil, 0
	}
	return unsafe.Pointer(unsafe.SliceData(h.data)), len(h.data)
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name    string
	prewarm int
	log     logger.Logger
}

// WithName sets the pool name used in logs, errors and metrics labels.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithPrewarm sets how many buffers warm-up creates. The value is clamped
// to [lowWaterMark, capacity].
func WithPrewarm(n int) Option {
	return func(o *options) {
		o.prewarm = n
	}
}

// WithLogger sets the logger used by warm-up and the refill goroutine.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Pool is a bounded, self-refilling pool of fixed-size buffers.
type Pool[E any] struct {
	name         string
	capacity     int
	lowWaterMark int
	factory      func() []E
	log          logger.Logger

	free chan *Handle[E]

	live             atomic.Int64
	created          atomic.Uint64
	createdUnchecked atomic.Uint64
	waiters          atomic.Int32

	refill    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a pool holding at most capacity buffers produced by factory
// and starts its refill goroutine. Call Close to stop it.
func New[E any](capacity, lowWaterMark int, factory func() []E, opts ...Option) (*Pool[E], error) {
	if capacity <= 0 || lowWaterMark < 0 || lowWaterMark >= capacity || factory == nil {
		return nil, errors.New(ErrInvalidConfig).
			Context("capacity", capacity).
			Context("low_water_mark", lowWaterMark).
			Context("has_factory", factory != nil).
			Build()
	}

	o := options{
		name:    "pool",
		prewarm: capacity,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.prewarm = min(max(o.prewarm, lowWaterMark), capacity)

	p := &Pool[E]{
		name:         o.name,
		capacity:     capacity,
		lowWaterMark: lowWaterMark,
		factory:      factory,
		log:          o.log.Module("bufferpool").With(logger.String("pool", o.name)),
		free:         make(chan *Handle[E], capacity),
		refill:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	for range o.prewarm {
		if !p.createOne() {
			break
		}
	}

	p.log.Debug("buffer pool warmed up",
		logger.Int("capacity", capacity),
		logger.Int("low_water_mark", lowWaterMark),
		logger.Int("prewarmed", o.prewarm))

	p.wg.Add(1)
	go p.refillLoop()

	return p, nil
}

// NewSamplePool creates a pool of float32 sample buffers of bufferSize samples.
func NewSamplePool(capacity, lowWaterMark, bufferSize int, opts ...Option) (*Pool[float32], error) {
	if bufferSize <= 0 {
		return nil, errors.New(ErrInvalidConfig).
			Context("buffer_size", bufferSize).
			Build()
	}
	return New(capacity, lowWaterMark, func() []float32 {
		return make([]float32, bufferSize)
	}, opts...)
}

// Name returns the pool name.
func (p *Pool[E]) Name() string {
	return p.name
}

// Get pops an available handle. It never blocks and never allocates; when
// the free list is empty it returns ErrExhausted. Dropping below the
// low-water mark wakes the refill goroutine.
func (p *Pool[E]) Get() (*Handle[E], error) {
	select {
	case h := <-p.free:
		h.checkedOut.Store(true)
		if len(p.free) < p.lowWaterMark {
			p.signalRefill()
		}
		return h, nil
	default:
		p.signalRefill()
		return nil, ErrExhausted
	}
}

// GetWait blocks until a handle is available or ctx is done. It must not be
// called from the processing goroutine.
func (p *Pool[E]) GetWait(ctx context.Context) (*Handle[E], error) {
	if h, err := p.Get(); err == nil {
		return h, nil
	}

	p.waiters.Add(1)
	defer p.waiters.Add(-1)
	p.signalRefill()

	select {
	case h := <-p.free:
		h.checkedOut.Store(true)
		if len(p.free) < p.lowWaterMark {
			p.signalRefill()
		}
		return h, nil
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component(ComponentBufferPool).
			Category(errors.CategoryTimeout).
			Context("pool", p.name).
			Build()
	}
}

// Release returns a checked-out handle to the free list. Buffer contents are
// left as they are. Releasing a nil, foreign or already pooled handle panics.
func (p *Pool[E]) Release(h *Handle[E]) {
	p.checkOwnership(h)
	select {
	case p.free <- h:
	default:
		// live never exceeds capacity, so a full free list means a handle
		// entered it twice.
		panic(ownershipViolation("free list overflow", p.name))
	}
}

// Discard retires a checked-out handle permanently. The live count drops
// and the refill goroutine may create a replacement.
func (p *Pool[E]) Discard(h *Handle[E]) {
	p.checkOwnership(h)
	h.pool = nil
	h.data = nil
	p.live.Add(-1)
	p.signalRefill()
}

func (p *Pool[E]) checkOwnership(h *Handle[E]) {
	switch {
	case h == nil:
		panic(ownershipViolation("nil handle released", p.name))
	case h.pool != p:
		panic(ownershipViolation("handle released to a pool that does not own it", p.name))
	case !h.checkedOut.CompareAndSwap(true, false):
		panic(ownershipViolation("handle released twice", p.name))
	}
}

// Available returns the number of pooled handles.
func (p *Pool[E]) Available() int {
	return len(p.free)
}

// Live returns the number of buffers currently owned by the pool or its callers.
func (p *Pool[E]) Live() int {
	return int(p.live.Load())
}

// Capacity returns the maximum number of live buffers.
func (p *Pool[E]) Capacity() int {
	return p.capacity
}

// LowWaterMark returns the refill threshold.
func (p *Pool[E]) LowWaterMark() int {
	return p.lowWaterMark
}

// CreatedTotal returns the number of buffers created over the pool lifetime.
func (p *Pool[E]) CreatedTotal() uint64 {
	return p.created.Load()
}

// CreatedSinceLastChecked returns the number of buffers created since the
// previous call and resets the counter.
func (p *Pool[E]) CreatedSinceLastChecked() uint64 {
	return p.createdUnchecked.Swap(0)
}

// Stats is a point-in-time snapshot of pool counters. Fields are read
// independently and may be mutually inconsistent under concurrent use.
type Stats struct {
	Name         string
	Capacity     int
	LowWaterMark int
	Available    int
	Live         int
	CreatedTotal uint64
}

// Stats returns a snapshot of the pool counters without resetting any.
func (p *Pool[E]) Stats() Stats {
	return Stats{
		Name:         p.name,
		Capacity:     p.capacity,
		LowWaterMark: p.lowWaterMark,
		Available:    p.Available(),
		Live:         p.Live(),
		CreatedTotal: p.CreatedTotal(),
	}
}

// Close stops the refill goroutine. Pooled handles stay usable, but the
// pool is no longer topped up. Safe to call more than once.
func (p *Pool[E]) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.log.Debug("buffer pool closed",
			logger.Uint64("created_total", p.created.Load()),
			logger.Int("available", len(p.free)))
	})
}

func (p *Pool[E]) signalRefill() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

func (p *Pool[E]) refillLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.refill:
			if n := p.topUp(); n > 0 {
				p.log.Debug("buffer pool refilled",
					logger.Int("created", n),
					logger.Int("available", len(p.free)),
					logger.Int64("live", p.live.Load()))
			}
		}
	}
}

// topUp creates buffers until the low-water mark is met, or until a blocked
// GetWait caller can be served, without exceeding capacity.
func (p *Pool[E]) topUp() int {
	n := 0
	for p.needsBuffer() {
		if !p.createOne() {
			break
		}
		n++
	}
	return n
}

func (p *Pool[E]) needsBuffer() bool {
	available := len(p.free)
	return available < p.lowWaterMark || (available == 0 && p.waiters.Load() > 0)
}

// createOne reserves a live slot and creates a buffer into the free list.
// It returns false when the pool is at capacity.
func (p *Pool[E]) createOne() bool {
	for {
		live := p.live.Load()
		if live >= int64(p.capacity) {
			return false
		}
		if p.live.CompareAndSwap(live, live+1) {
			break
		}
	}

	h := &Handle[E]{
		data: p.factory(),
		pool: p,
		seq:  p.created.Add(1),
	}
	p.createdUnchecked.Add(1)
	p.free <- h
	return true
}
