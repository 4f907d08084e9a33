//go:build !linux

package memory

import "fmt"

// MemfdProvider is only available on Linux.
type MemfdProvider struct{}

// NewMemfdProvider creates a memfd provider.
func NewMemfdProvider() *MemfdProvider {
	return &MemfdProvider{}
}

var errMemfdUnsupported = fmt.Errorf("memfd provider is only supported on linux")

// Allocate implements Provider.
func (p *MemfdProvider) Allocate(AllocateOptions) (ReadWritableResource, error) {
	return nil, errMemfdUnsupported
}

// MapReadable implements Provider.
func (p *MemfdProvider) MapReadable(ExchangeHandle) (ReadableResource, error) {
	return nil, errMemfdUnsupported
}

// MapReadWritable implements Provider.
func (p *MemfdProvider) MapReadWritable(ExchangeHandle) (ReadWritableResource, error) {
	return nil, errMemfdUnsupported
}

func dupFD(int) (int, error) { return -1, errMemfdUnsupported }

func closeFD(int) error { return errMemfdUnsupported }
