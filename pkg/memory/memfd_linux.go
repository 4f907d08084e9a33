//go:build linux

package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// MemfdProvider allocates anonymous memfd objects and maps them with mmap.
// Handles carry the file descriptor, so they can be passed to another process
// over a Unix socket.
//
// Every resource owns its own descriptor: Allocate owns the memfd it creates,
// and the Map functions duplicate the descriptor of the handle they are given.
type MemfdProvider struct{}

// NewMemfdProvider creates a memfd provider.
func NewMemfdProvider() *MemfdProvider {
	return &MemfdProvider{}
}

// Allocate implements Provider.
func (p *MemfdProvider) Allocate(opts AllocateOptions) (ReadWritableResource, error) {
	if opts.Size == 0 {
		return nil, fmt.Errorf("memfd allocate: size must be positive")
	}

	name := opts.Name
	if name == "" {
		name = "zerocopy"
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	// ftruncate on a fresh memfd zero-fills, which satisfies InitZeroed.
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(opts.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &mmapResource{
		handle:   ExchangeHandle{ID: uuid.New(), FD: fd, Size: opts.Size},
		data:     data,
		writable: true,
	}, nil
}

// MapReadable implements Provider. The mapping is PROT_READ.
func (p *MemfdProvider) MapReadable(h ExchangeHandle) (ReadableResource, error) {
	return p.mapHandle(h, unix.PROT_READ)
}

// MapReadWritable implements Provider.
func (p *MemfdProvider) MapReadWritable(h ExchangeHandle) (ReadWritableResource, error) {
	return p.mapHandle(h, unix.PROT_READ|unix.PROT_WRITE)
}

func (p *MemfdProvider) mapHandle(h ExchangeHandle, prot int) (*mmapResource, error) {
	if !h.IsValid() || h.FD < 0 {
		return nil, fmt.Errorf("memfd map: %s", h)
	}

	var st unix.Stat_t
	if err := unix.Fstat(h.FD, &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size < 0 || uint64(st.Size) < h.Size {
		return nil, fmt.Errorf("memfd map: object is %d bytes, handle claims %d", st.Size, h.Size)
	}

	fd, err := unix.Dup(h.FD)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	unix.CloseOnExec(fd)

	data, err := unix.Mmap(fd, 0, int(h.Size), prot, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	owned := h
	owned.FD = fd

	return &mmapResource{
		handle:   owned,
		data:     data,
		writable: prot&unix.PROT_WRITE != 0,
	}, nil
}

type mmapResource struct {
	mu       sync.Mutex
	handle   ExchangeHandle
	data     []byte
	writable bool
	closed   bool
}

func (r *mmapResource) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

func (r *mmapResource) WritableBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable {
		return nil
	}
	return r.data
}

func (r *mmapResource) Handle() ExchangeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

func (r *mmapResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			firstErr = fmt.Errorf("munmap: %w", err)
		}
		r.data = nil
	}
	if r.handle.FD >= 0 {
		if err := unix.Close(r.handle.FD); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close memfd: %w", err)
		}
		r.handle.FD = InvalidFD
	}
	return firstErr
}

// Ensure MemfdProvider implements Provider.
var _ Provider = (*MemfdProvider)(nil)

func dupFD(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(nfd)
	return nfd, nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}
