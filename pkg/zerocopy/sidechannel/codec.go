package sidechannel

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/marmos91/zerocopy/pkg/memory"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// WireVersion is the version of the encoded message layout.
const WireVersion = uint32(1)

// noDescriptor marks a handle that carries no file descriptor on the wire.
const noDescriptor = int32(-1)

// wireHandle is the XDR form of a memory.ExchangeHandle. The file descriptor
// travels out of band; Descriptor is its index in the ancillary data.
type wireHandle struct {
	ID         [16]byte
	Descriptor int32
	Size       uint64
}

// wireMessage is the XDR form of a Message.
type wireMessage struct {
	Version              uint32
	Kind                 uint32
	NumberSlots          uint32
	SlotContentSize      uint64
	SlotContentAlignment uint64
	SlotHandle           wireHandle
	QueueCapacity        uint32
	QueueHandle          wireHandle
}

// EncodeMessage serializes msg. File descriptors of the carried handles are
// returned separately, in the order the encoded indices refer to.
func EncodeMessage(msg Message) ([]byte, []int, error) {
	var fds []int

	toWire := func(h memory.ExchangeHandle) wireHandle {
		w := wireHandle{ID: h.ID, Descriptor: noDescriptor, Size: h.Size}
		if h.IsValid() && h.FD >= 0 {
			w.Descriptor = int32(len(fds))
			fds = append(fds, h.FD)
		}
		return w
	}

	wm := wireMessage{
		Version:              WireVersion,
		Kind:                 uint32(msg.Kind),
		NumberSlots:          msg.SlotConfig.NumberSlots,
		SlotContentSize:      msg.SlotConfig.SlotContentSize,
		SlotContentAlignment: msg.SlotConfig.SlotContentAlignment,
		SlotHandle:           toWire(msg.SlotHandle),
		QueueCapacity:        msg.QueueConfig.Capacity,
		QueueHandle:          toWire(msg.QueueHandle),
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &wm); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s: %w", msg.Kind, err)
	}
	return buf.Bytes(), fds, nil
}

// DecodeMessage parses an encoded message, resolving descriptor indices
// against fds.
func DecodeMessage(data []byte, fds []int) (Message, error) {
	var wm wireMessage
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &wm); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if wm.Version != WireVersion {
		return Message{}, fmt.Errorf("unsupported wire version %d", wm.Version)
	}

	fromWire := func(w wireHandle) (memory.ExchangeHandle, error) {
		h := memory.ExchangeHandle{ID: uuid.UUID(w.ID), FD: memory.InvalidFD, Size: w.Size}
		if w.Descriptor == noDescriptor {
			return h, nil
		}
		if w.Descriptor < 0 || int(w.Descriptor) >= len(fds) {
			return h, fmt.Errorf("descriptor index %d out of range (%d received)", w.Descriptor, len(fds))
		}
		h.FD = fds[w.Descriptor]
		return h, nil
	}

	slotHandle, err := fromWire(wm.SlotHandle)
	if err != nil {
		return Message{}, err
	}
	queueHandle, err := fromWire(wm.QueueHandle)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Kind: Kind(wm.Kind),
		SlotConfig: memory.SlotMemoryConfig{
			NumberSlots:          wm.NumberSlots,
			SlotContentSize:      wm.SlotContentSize,
			SlotContentAlignment: wm.SlotContentAlignment,
		},
		SlotHandle:  slotHandle,
		QueueConfig: memory.QueueMemoryConfig{Capacity: wm.QueueCapacity},
		QueueHandle: queueHandle,
	}, nil
}
