// Package slotqueue implements a lock-free single-producer/single-consumer
// queue of slot indices laid out in a shared memory region.
//
// Two processes use the queue at once: exactly one pushes, exactly one pops.
// The region starts with a fixed header followed by the index ring:
//
//	0x00  magic    [8]byte  "ZCSLOTQ\0"
//	0x08  version  uint32
//	0x0C  capacity uint32
//	0x40  tail     uint64   next write position (producer-owned)
//	0x80  head     uint64   next read position (consumer-owned)
//	0xC0  ring     [capacity]uint32
//
// head and tail are monotonic counters on separate cache lines; the ring
// position is counter % capacity.
package slotqueue

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// Magic identifies an initialized slot queue region.
	Magic = "ZCSLOTQ\x00"

	// Version is the current layout version.
	Version = uint32(1)

	// HeaderSize is the size of the header preceding the ring.
	HeaderSize = 0xC0

	entrySize = 4
)

var (
	// ErrNotInitialized is returned by Attach when the region carries no valid header.
	ErrNotInitialized = errors.New("slotqueue: region not initialized")

	// ErrCorrupted is returned when the shared counters are inconsistent.
	ErrCorrupted = errors.New("slotqueue: counters corrupted")
)

type header struct {
	magic    [8]byte
	version  uint32
	capacity uint32
	_        [48]byte
	tail     atomic.Uint64
	_        [56]byte
	head     atomic.Uint64
	_        [56]byte
}

// Compile-time layout check.
var _ [HeaderSize - unsafe.Sizeof(header{})]struct{}

// RequiredSize returns the number of bytes a queue with the given capacity occupies.
func RequiredSize(capacity uint32) uint64 {
	return HeaderSize + uint64(capacity)*entrySize
}

// Queue is a view of a slot queue in a memory region. A Queue does not own
// the region; the region must outlive it.
type Queue struct {
	hdr      *header
	ring     []atomic.Uint32
	capacity uint64
}

// Initialize formats buf as an empty queue with the given capacity. Only the
// owner of the region calls Initialize, before handing the region to its peer.
func Initialize(buf []byte, capacity uint32) (*Queue, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("slotqueue: capacity must be positive")
	}
	if err := checkRegion(buf, capacity); err != nil {
		return nil, err
	}

	hdr := (*header)(unsafe.Pointer(&buf[0]))
	hdr.tail.Store(0)
	hdr.head.Store(0)
	hdr.capacity = capacity
	hdr.version = Version
	copy(hdr.magic[:], Magic)

	return view(buf, hdr, capacity), nil
}

// Attach opens a queue previously formatted with Initialize. expectedCapacity
// must match the capacity recorded in the header.
func Attach(buf []byte, expectedCapacity uint32) (*Queue, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("slotqueue: region of %d bytes is smaller than header", len(buf))
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return nil, fmt.Errorf("slotqueue: region is not 8-byte aligned")
	}

	hdr := (*header)(unsafe.Pointer(&buf[0]))
	if string(hdr.magic[:]) != Magic || hdr.version != Version {
		return nil, ErrNotInitialized
	}
	if hdr.capacity != expectedCapacity {
		return nil, fmt.Errorf("slotqueue: capacity %d, expected %d", hdr.capacity, expectedCapacity)
	}
	if err := checkRegion(buf, hdr.capacity); err != nil {
		return nil, err
	}

	return view(buf, hdr, hdr.capacity), nil
}

func checkRegion(buf []byte, capacity uint32) error {
	if uint64(len(buf)) < RequiredSize(capacity) {
		return fmt.Errorf("slotqueue: region of %d bytes too small for capacity %d (need %d)",
			len(buf), capacity, RequiredSize(capacity))
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return fmt.Errorf("slotqueue: region is not 8-byte aligned")
	}
	return nil
}

func view(buf []byte, hdr *header, capacity uint32) *Queue {
	ring := unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(&buf[HeaderSize])), capacity)
	return &Queue{hdr: hdr, ring: ring, capacity: uint64(capacity)}
}

// Capacity returns the number of indices the queue can hold.
func (q *Queue) Capacity() uint32 {
	return uint32(q.capacity)
}

// Len returns the number of queued indices. The value may be stale when
// called concurrently with the peer.
func (q *Queue) Len() int {
	used := q.hdr.tail.Load() - q.hdr.head.Load()
	if used > q.capacity {
		return int(q.capacity)
	}
	return int(used)
}

// Push appends index. It returns false when the queue is full.
// Producer side only.
func (q *Queue) Push(index uint32) (bool, error) {
	tail := q.hdr.tail.Load()
	head := q.hdr.head.Load()

	used := tail - head
	if used > q.capacity {
		return false, ErrCorrupted
	}
	if used == q.capacity {
		return false, nil
	}

	q.ring[tail%q.capacity].Store(index)
	q.hdr.tail.Store(tail + 1)
	return true, nil
}

// Pop removes the oldest index. ok is false when the queue is empty.
// Consumer side only.
func (q *Queue) Pop() (index uint32, ok bool, err error) {
	head := q.hdr.head.Load()
	tail := q.hdr.tail.Load()

	if tail == head {
		return 0, false, nil
	}
	if tail-head > q.capacity {
		return 0, false, ErrCorrupted
	}

	index = q.ring[head%q.capacity].Load()
	q.hdr.head.Store(head + 1)
	return index, true, nil
}
