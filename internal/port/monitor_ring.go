package port

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/rtcore/internal/errors"
)

// OverflowPolicy decides what a full monitor ring does with new data. The
// policy is fixed when the ring is created.
type OverflowPolicy int

const (
	// DropOldest discards the oldest buffered data to make room.
	DropOldest OverflowPolicy = iota
	// Reject keeps buffered data and drops whatever does not fit.
	Reject
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy parses "drop-oldest" or "reject".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-oldest", "dropoldest", "":
		return DropOldest, nil
	case "reject":
		return Reject, nil
	default:
		return 0, errors.New(ErrInvalidConfig).
			Context("overflow_policy", s).
			Build()
	}
}

const float32Size = 4

// byteRing is the part of the ring buffer the monitor uses.
type byteRing interface {
	TryWrite(p []byte) (int, error)
	Read(p []byte) (int, error)
	Length() int
	Reset()
}

// MonitorRing copies processed data out of the processing goroutine for
// metering and inspection. Writes never block and never allocate: the ring
// lock is only tried. Under DropOldest the ring overwrites its oldest data
// and a write that cannot take the lock is carried into the next write, so
// the newest data always survives. Under Reject a full ring or a busy lock
// drops the new data. Reads happen on control goroutines.
type MonitorRing struct {
	rb       byteRing
	policy   OverflowPolicy
	unit     int
	capacity int

	// processing goroutine only
	scratch []byte
	carry   []byte

	readMu   sync.Mutex
	readBuf  []byte
	consumed atomic.Uint64

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewMonitorRing creates a ring holding samples float32 values. maxWrite is
// the largest number of samples passed to a single WriteSamples call.
func NewMonitorRing(samples, maxWrite int, policy OverflowPolicy) (*MonitorRing, error) {
	return newMonitorRing(samples, maxWrite, float32Size, policy)
}

// NewByteMonitorRing creates a ring holding size raw bytes, used for MIDI
// traffic. maxWrite is the largest single WriteBytes call.
func NewByteMonitorRing(size, maxWrite int, policy OverflowPolicy) (*MonitorRing, error) {
	return newMonitorRing(size, maxWrite, 1, policy)
}

func newMonitorRing(elements, maxWrite, unit int, policy OverflowPolicy) (*MonitorRing, error) {
	if elements <= 0 || maxWrite <= 0 || (policy != DropOldest && policy != Reject) {
		return nil, errors.New(ErrInvalidConfig).
			Context("monitor_size", elements).
			Context("max_write", maxWrite).
			Context("overflow_policy", policy.String()).
			Build()
	}
	capBytes := elements * unit
	m := &MonitorRing{
		policy:   policy,
		unit:     unit,
		capacity: capBytes,
		scratch:  make([]byte, maxWrite*unit),
	}
	rb := ringbuffer.New(capBytes)
	if policy == DropOldest {
		rb.SetOverwrite(true)
		m.carry = make([]byte, 0, capBytes)
	}
	m.rb = rb
	return m, nil
}

// WriteSamples encodes samples as little-endian float32 and writes them.
// Samples beyond the maxWrite given at construction are dropped. It must
// only be called from the processing goroutine.
func (m *MonitorRing) WriteSamples(samples []float32) {
	n := min(len(samples), len(m.scratch)/float32Size)
	for i, s := range samples[:n] {
		binary.LittleEndian.PutUint32(m.scratch[i*float32Size:], math.Float32bits(s))
	}
	if extra := len(samples) - n; extra > 0 {
		m.dropped.Add(uint64(extra))
	}
	m.write(m.scratch[:n*float32Size])
}

// WriteBytes writes raw bytes. It must only be called from the processing
// goroutine.
func (m *MonitorRing) WriteBytes(p []byte) {
	m.write(p)
}

func (m *MonitorRing) write(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) > m.capacity {
		skip := len(p) - m.capacity
		m.dropped.Add(uint64(skip / m.unit))
		if m.policy == DropOldest {
			p = p[skip:]
		} else {
			p = p[:m.capacity]
		}
	}

	if m.policy == DropOldest {
		m.overwrite(p)
		return
	}

	n, err := m.rb.TryWrite(p)
	m.written.Add(uint64(n / m.unit))
	if err != nil {
		m.dropped.Add(uint64((len(p) - n) / m.unit))
	}
}

// overwrite writes p in overwrite mode. Data that loses the lock is kept
// in carry, ahead of the next write.
func (m *MonitorRing) overwrite(p []byte) {
	carried := len(m.carry) > 0
	if carried {
		m.carryOver(p)
		p = m.carry
	}

	n, err := m.rb.TryWrite(p)
	if errors.Is(err, ringbuffer.ErrAcquireLock) {
		if !carried {
			m.carryOver(p)
		}
		return
	}
	m.written.Add(uint64(n / m.unit))
	if err != nil {
		m.dropped.Add(uint64((len(p) - n) / m.unit))
	}
	m.carry = m.carry[:0]
}

// carryOver appends p to carry, dropping the oldest carried data when the
// total exceeds the ring capacity.
func (m *MonitorRing) carryOver(p []byte) {
	if excess := len(m.carry) + len(p) - m.capacity; excess > 0 {
		m.dropped.Add(uint64(excess / m.unit))
		m.carry = m.carry[:copy(m.carry, m.carry[excess:])]
	}
	m.carry = append(m.carry, p...)
}

// Read decodes buffered float32 samples into dst and returns how many were
// read.
func (m *MonitorRing) Read(dst []float32) int {
	if m.unit != float32Size || len(dst) == 0 {
		return 0
	}
	m.readMu.Lock()
	defer m.readMu.Unlock()

	need := len(dst) * float32Size
	if cap(m.readBuf) < need {
		m.readBuf = make([]byte, need)
	}
	buf := m.readBuf[:need]
	n, _ := m.rb.Read(buf)
	samples := n / float32Size
	m.consumed.Add(uint64(samples))
	for i := range samples {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*float32Size:]))
	}
	return samples
}

// ReadBytes copies buffered raw bytes into dst.
func (m *MonitorRing) ReadBytes(dst []byte) int {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	n, _ := m.rb.Read(dst)
	m.consumed.Add(uint64(n / m.unit))
	return n
}

// Buffered returns the number of elements waiting to be read.
func (m *MonitorRing) Buffered() int {
	return m.rb.Length() / m.unit
}

// Capacity returns the ring size in elements.
func (m *MonitorRing) Capacity() int {
	return m.capacity / m.unit
}

// Policy returns the overflow policy.
func (m *MonitorRing) Policy() OverflowPolicy {
	return m.policy
}

// Written returns the number of elements accepted by the ring.
func (m *MonitorRing) Written() uint64 {
	return m.written.Load()
}

// Dropped returns the number of elements lost to overflow or lock
// contention. Under DropOldest these are the oldest elements, including
// those the ring overwrote, which are counted from the written, read and
// buffered totals.
func (m *MonitorRing) Dropped() uint64 {
	dropped := m.dropped.Load()
	if m.policy != DropOldest {
		return dropped
	}
	m.readMu.Lock()
	defer m.readMu.Unlock()
	written := m.written.Load()
	held := m.consumed.Load() + uint64(m.rb.Length()/m.unit)
	if written > held {
		dropped += written - held
	}
	return dropped
}

// Reset discards buffered data.
func (m *MonitorRing) Reset() {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	m.consumed.Add(uint64(m.rb.Length() / m.unit))
	m.rb.Reset()
}
