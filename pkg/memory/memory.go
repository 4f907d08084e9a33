// Package memory abstracts the operating-system memory objects that back a
// zero-copy instance: the slot memory holding payloads and the queue memory
// holding the slot-index queues.
//
// A memory object is created once by its owner (Allocate) and handed to peers
// as an ExchangeHandle. Peers map the handle with MapReadable or
// MapReadWritable; mapping never takes ownership of the handle itself.
//
// Two providers are available:
//   - Memfd (Linux): anonymous memfd objects mapped with mmap, exchangeable
//     across processes by passing the file descriptor
//   - Heap: process-local objects addressed by ID, for in-process instances
//     and tests
package memory

import (
	"fmt"

	"github.com/google/uuid"
)

// InvalidFD is the file descriptor value of handles that are not fd-backed.
const InvalidFD = -1

// ============================================================================
// Handles and Descriptors
// ============================================================================

// ExchangeHandle identifies a memory object that can be handed to a peer.
type ExchangeHandle struct {
	// ID is the identity of the memory object.
	ID uuid.UUID

	// FD is the file descriptor for fd-backed objects, InvalidFD otherwise.
	FD int

	// Size is the size of the memory object in bytes.
	Size uint64
}

// InvalidHandle returns the invalid-handle sentinel.
func InvalidHandle() ExchangeHandle {
	return ExchangeHandle{FD: InvalidFD}
}

// IsValid reports whether the handle references a memory object.
func (h ExchangeHandle) IsValid() bool {
	if h.Size == 0 {
		return false
	}
	return h.FD >= 0 || h.ID != uuid.Nil
}

// String implements fmt.Stringer.
func (h ExchangeHandle) String() string {
	if !h.IsValid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(id=%s fd=%d size=%d)", h.ID, h.FD, h.Size)
}

// IntegrityLevel is the safety integrity level a memory object is certified for.
type IntegrityLevel uint8

const (
	IntegrityQM IntegrityLevel = iota
	IntegrityASILA
	IntegrityASILB
	IntegrityASILC
	IntegrityASILD
)

// String returns the integrity level name.
func (l IntegrityLevel) String() string {
	switch l {
	case IntegrityQM:
		return "QM"
	case IntegrityASILA:
		return "ASIL-A"
	case IntegrityASILB:
		return "ASIL-B"
	case IntegrityASILC:
		return "ASIL-C"
	case IntegrityASILD:
		return "ASIL-D"
	default:
		return fmt.Sprintf("IntegrityLevel(%d)", l)
	}
}

// InitializationPolicy controls the content of freshly allocated memory.
type InitializationPolicy uint8

const (
	// InitZeroed guarantees the memory is zero-filled on allocation.
	InitZeroed InitializationPolicy = iota

	// InitUnspecified leaves the initial content undefined.
	InitUnspecified
)

// ReadableDescriptor describes a memory region a consumer may map read-only.
// It may contain the invalid-handle sentinel.
type ReadableDescriptor struct {
	Handle    ExchangeHandle
	Integrity IntegrityLevel
}

// IsValid reports whether the descriptor references a memory object.
func (d ReadableDescriptor) IsValid() bool {
	return d.Handle.IsValid()
}

// Dup returns a copy of d owned by the caller. For fd-backed objects the copy
// holds its own file descriptor, which stays open until Close regardless of
// what happens to d.
func (d ReadableDescriptor) Dup() (ReadableDescriptor, error) {
	if d.Handle.FD < 0 {
		return d, nil
	}
	fd, err := dupFD(d.Handle.FD)
	if err != nil {
		return ReadableDescriptor{Handle: InvalidHandle()}, fmt.Errorf("memory: duplicate descriptor: %w", err)
	}
	d.Handle.FD = fd
	return d, nil
}

// Close releases the file descriptor of a descriptor obtained from Dup. It is
// a no-op for objects without one.
func (d ReadableDescriptor) Close() error {
	if d.Handle.FD < 0 {
		return nil
	}
	return closeFD(d.Handle.FD)
}

// ============================================================================
// Layout Configurations
// ============================================================================

// SlotMemoryConfig describes the layout of the slot memory.
//
// Slots are laid out back to back; each slot occupies SlotContentSize rounded
// up to SlotContentAlignment.
type SlotMemoryConfig struct {
	NumberSlots          uint32
	SlotContentSize      uint64
	SlotContentAlignment uint64
}

// SlotStride returns the distance in bytes between consecutive slots.
func (c SlotMemoryConfig) SlotStride() uint64 {
	return AlignUp(c.SlotContentSize, c.SlotContentAlignment)
}

// RequiredSize returns the minimum size of a memory object holding all slots.
func (c SlotMemoryConfig) RequiredSize() uint64 {
	return uint64(c.NumberSlots) * c.SlotStride()
}

// SlotOffset returns the byte offset of the slot with the given index.
func (c SlotMemoryConfig) SlotOffset(index uint32) uint64 {
	return uint64(index) * c.SlotStride()
}

// Validate checks that the configuration describes a usable layout.
func (c SlotMemoryConfig) Validate() error {
	if c.NumberSlots == 0 {
		return fmt.Errorf("slot memory: number of slots must be positive")
	}
	if c.SlotContentSize == 0 {
		return fmt.Errorf("slot memory: slot content size must be positive")
	}
	if !IsPowerOfTwo(c.SlotContentAlignment) {
		return fmt.Errorf("slot memory: alignment %d is not a power of two", c.SlotContentAlignment)
	}
	return nil
}

// QueueMemoryConfig describes a slot-index queue memory object.
type QueueMemoryConfig struct {
	// Capacity is the number of slot indices the queue can hold.
	Capacity uint32
}

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
func AlignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// ============================================================================
// Resources and Providers
// ============================================================================

// ReadableResource is a mapped memory object that may only be read.
type ReadableResource interface {
	// Bytes returns the mapped region. Callers must not write to it; for
	// read-only mappings a write faults.
	Bytes() []byte

	// Handle returns the exchange handle of the underlying object.
	Handle() ExchangeHandle

	// Close unmaps the region. Views obtained from Bytes become invalid.
	Close() error
}

// ReadWritableResource is a mapped memory object that may be written.
type ReadWritableResource interface {
	ReadableResource

	// WritableBytes returns the mapped region for writing.
	WritableBytes() []byte
}

// AllocateOptions configures a new memory object.
type AllocateOptions struct {
	Size         uint64
	Name         string
	Integrity    IntegrityLevel
	Initializing InitializationPolicy
}

// Provider creates and maps memory objects.
type Provider interface {
	// Allocate creates a new memory object and maps it read-write.
	Allocate(opts AllocateOptions) (ReadWritableResource, error)

	// MapReadable maps an existing object read-only. The handle is not consumed.
	MapReadable(h ExchangeHandle) (ReadableResource, error)

	// MapReadWritable maps an existing object read-write. The handle is not consumed.
	MapReadWritable(h ExchangeHandle) (ReadWritableResource, error)
}

// Backend names accepted by NewProvider.
const (
	BackendMemfd = "memfd"
	BackendHeap  = "heap"
)

// NewProvider returns the provider for the named backend.
func NewProvider(backend string) (Provider, error) {
	switch backend {
	case BackendMemfd:
		return NewMemfdProvider(), nil
	case BackendHeap:
		return NewHeapProvider(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q (supported: %s, %s)", backend, BackendMemfd, BackendHeap)
	}
}
