package bufferpool

import (
	"strconv"
	"sync"
	"unsafe"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// PoolID identifies a pool held by a Table.
type PoolID uint64

// BufferID identifies a buffer handed out by a Table. A buffer keeps its ID
// across get and release cycles.
type BufferID uint64

type tableEntry struct {
	pool   PoolID
	handle *Handle[float32]
}

// Table exposes float32 sample pools to callers that only hold integer IDs,
// such as code on the far side of a cgo boundary. Each Table is constructed
// explicitly; there is no process-wide instance.
//
// Table methods take a mutex and are meant for control threads. Real-time
// code should hold a *Pool directly.
type Table struct {
	mu       sync.RWMutex
	log      logger.Logger
	nextPool PoolID
	nextBuf  BufferID
	pools    map[PoolID]*Pool[float32]
	buffers  map[BufferID]tableEntry
	ids      map[*Handle[float32]]BufferID
}

// NewTable creates an empty Table. A nil logger discards output.
func NewTable(log logger.Logger) *Table {
	if log == nil {
		log = logger.Discard()
	}
	return &Table{
		log:     log,
		pools:   make(map[PoolID]*Pool[float32]),
		buffers: make(map[BufferID]tableEntry),
		ids:     make(map[*Handle[float32]]BufferID),
	}
}

// NewPool creates a sample pool and returns its ID.
func (t *Table) NewPool(capacity, lowWaterMark, bufferSize int) (PoolID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextPool++
	id := t.nextPool
	p, err := NewSamplePool(capacity, lowWaterMark, bufferSize,
		WithName(poolName(id)),
		WithLogger(t.log))
	if err != nil {
		return 0, err
	}
	t.pools[id] = p
	return id, nil
}

// GetBuffer checks out a buffer from the pool. ErrExhausted is returned
// when the pool has no stocked buffer.
func (t *Table) GetBuffer(pool PoolID) (BufferID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.lookupPool(pool)
	if err != nil {
		return 0, err
	}
	h, err := p.Get()
	if err != nil {
		return 0, err
	}
	id, ok := t.ids[h]
	if !ok {
		t.nextBuf++
		id = t.nextBuf
		t.ids[h] = id
		t.buffers[id] = tableEntry{pool: pool, handle: h}
	}
	return id, nil
}

// ReleaseBuffer returns a buffer to its pool. Unknown IDs are reported as
// errors; releasing a buffer into a pool that did not issue it panics.
func (t *Table) ReleaseBuffer(pool PoolID, buf BufferID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.lookupPool(pool)
	if err != nil {
		return err
	}
	entry, ok := t.buffers[buf]
	if !ok {
		return unknownBuffer(buf)
	}
	p.Release(entry.handle)
	return nil
}

// BufferData returns the pointer and length of a checked-out buffer. The
// pointer is valid only until the buffer is released.
func (t *Table) BufferData(buf BufferID) (unsafe.Pointer, int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.buffers[buf]
	if !ok {
		return nil, 0, unknownBuffer(buf)
	}
	ptr, n := entry.handle.Pointer()
	if ptr == nil {
		return nil, 0, errors.New(ErrNotCheckedOut).
			Context("buffer_id", uint64(buf)).
			Build()
	}
	return ptr, n, nil
}

// Available returns the number of pooled buffers in pool.
func (t *Table) Available(pool PoolID) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, err := t.lookupPool(pool)
	if err != nil {
		return 0, err
	}
	return p.Available(), nil
}

// CreatedSinceLastChecked returns and resets the creation counter of pool.
func (t *Table) CreatedSinceLastChecked(pool PoolID) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, err := t.lookupPool(pool)
	if err != nil {
		return 0, err
	}
	return p.CreatedSinceLastChecked(), nil
}

// ClosePool stops the pool's refill goroutine and forgets the pool and its
// buffers. Buffers still checked out must not be used afterwards.
func (t *Table) ClosePool(pool PoolID) error {
	t.mu.Lock()
	p, err := t.lookupPool(pool)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	delete(t.pools, pool)
	for id, entry := range t.buffers {
		if entry.pool == pool {
			delete(t.buffers, id)
			delete(t.ids, entry.handle)
		}
	}
	t.mu.Unlock()

	p.Close()
	return nil
}

// Pools returns the live pools for metrics sampling.
func (t *Table) Pools() []*Pool[float32] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Pool[float32], 0, len(t.pools))
	for _, p := range t.pools {
		out = append(out, p)
	}
	return out
}

// Close closes every pool held by the table.
func (t *Table) Close() {
	t.mu.Lock()
	pools := t.pools
	t.pools = make(map[PoolID]*Pool[float32])
	t.buffers = make(map[BufferID]tableEntry)
	t.ids = make(map[*Handle[float32]]BufferID)
	t.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

func (t *Table) lookupPool(id PoolID) (*Pool[float32], error) {
	p, ok := t.pools[id]
	if !ok {
		return nil, errors.New(ErrUnknownID).
			Context("pool_id", uint64(id)).
			Build()
	}
	return p, nil
}

func unknownBuffer(id BufferID) error {
	return errors.New(ErrUnknownID).
		Context("buffer_id", uint64(id)).
		Build()
}

func poolName(id PoolID) string {
	return "table-" + strconv.FormatUint(uint64(id), 10)
}
