package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// HeapProvider allocates process-local memory objects. Handles carry no file
// descriptor; peers in the same process resolve them by ID.
//
// An object stays registered while at least one mapping of it is open.
type HeapProvider struct {
	mu      sync.Mutex
	objects map[uuid.UUID]*heapObject
}

type heapObject struct {
	buf  []byte
	refs int
}

// NewHeapProvider creates an empty heap provider.
func NewHeapProvider() *HeapProvider {
	return &HeapProvider{objects: make(map[uuid.UUID]*heapObject)}
}

// Allocate implements Provider.
func (p *HeapProvider) Allocate(opts AllocateOptions) (ReadWritableResource, error) {
	if opts.Size == 0 {
		return nil, fmt.Errorf("heap allocate: size must be positive")
	}

	id := uuid.New()
	obj := &heapObject{buf: make([]byte, opts.Size), refs: 1}

	p.mu.Lock()
	p.objects[id] = obj
	p.mu.Unlock()

	return &heapResource{
		provider: p,
		handle:   ExchangeHandle{ID: id, FD: InvalidFD, Size: opts.Size},
		buf:      obj.buf,
		writable: true,
	}, nil
}

// MapReadable implements Provider.
func (p *HeapProvider) MapReadable(h ExchangeHandle) (ReadableResource, error) {
	return p.mapObject(h, false)
}

// MapReadWritable implements Provider.
func (p *HeapProvider) MapReadWritable(h ExchangeHandle) (ReadWritableResource, error) {
	return p.mapObject(h, true)
}

func (p *HeapProvider) mapObject(h ExchangeHandle, writable bool) (*heapResource, error) {
	if !h.IsValid() {
		return nil, fmt.Errorf("heap map: %s", h)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[h.ID]
	if !ok {
		return nil, fmt.Errorf("heap map: unknown object %s", h.ID)
	}
	if uint64(len(obj.buf)) < h.Size {
		return nil, fmt.Errorf("heap map: object %s is %d bytes, handle claims %d", h.ID, len(obj.buf), h.Size)
	}
	obj.refs++

	return &heapResource{
		provider: p,
		handle:   h,
		buf:      obj.buf[:h.Size:h.Size],
		writable: writable,
	}, nil
}

// Len returns the number of registered objects.
func (p *HeapProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func (p *HeapProvider) release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[id]
	if !ok {
		return
	}
	obj.refs--
	if obj.refs <= 0 {
		delete(p.objects, id)
	}
}

type heapResource struct {
	provider *HeapProvider
	handle   ExchangeHandle
	buf      []byte
	writable bool
	closed   bool
	mu       sync.Mutex
}

func (r *heapResource) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf
}

func (r *heapResource) WritableBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable {
		return nil
	}
	return r.buf
}

func (r *heapResource) Handle() ExchangeHandle {
	return r.handle
}

func (r *heapResource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.buf = nil
	r.mu.Unlock()

	r.provider.release(r.handle.ID)
	return nil
}

// Ensure HeapProvider implements Provider.
var _ Provider = (*HeapProvider)(nil)
