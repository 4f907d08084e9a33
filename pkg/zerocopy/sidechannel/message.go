// Package sidechannel carries the control messages of a zero-copy connection:
// the connection handshake, listening-mode changes, slot notifications and
// shutdown. Slot data itself never travels here; it lives in shared memory.
//
// A Channel sends messages to the peer. Incoming traffic is delivered to a
// Receiver by a single reactor goroutine per channel, so receiver callbacks
// never run concurrently with each other.
package sidechannel

import (
	"fmt"

	"github.com/marmos91/zerocopy/pkg/memory"
)

// Kind identifies a side-channel message.
type Kind uint32

const (
	// KindConnectionRequest is sent by the server with the slot memory and
	// server queue memory of the connection.
	KindConnectionRequest Kind = iota + 1

	// KindAckConnectionRequest is the client reply carrying its queue memory.
	KindAckConnectionRequest

	// KindAckQueueInitialization tells the client both queues are initialized.
	KindAckQueueInitialization

	// KindStartListening asks the server to notify on every sent slot.
	KindStartListening

	// KindStopListening switches the client back to polling.
	KindStopListening

	// KindNotification signals that a slot was sent.
	KindNotification

	// KindShutdown announces an orderly disconnect by either side.
	KindShutdown
)

// String returns the message kind name.
func (k Kind) String() string {
	switch k {
	case KindConnectionRequest:
		return "ConnectionRequest"
	case KindAckConnectionRequest:
		return "AckConnectionRequest"
	case KindAckQueueInitialization:
		return "AckQueueInitialization"
	case KindStartListening:
		return "StartListening"
	case KindStopListening:
		return "StopListening"
	case KindNotification:
		return "Notification"
	case KindShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Message is one side-channel message. Only the fields relevant to Kind are set.
type Message struct {
	Kind Kind

	// ConnectionRequest
	SlotConfig memory.SlotMemoryConfig
	SlotHandle memory.ExchangeHandle

	// ConnectionRequest (server queue) and AckConnectionRequest (client queue)
	QueueConfig memory.QueueMemoryConfig
	QueueHandle memory.ExchangeHandle
}

// ConnectionRequest is the payload of KindConnectionRequest.
type ConnectionRequest struct {
	SlotConfig        memory.SlotMemoryConfig
	SlotHandle        memory.ExchangeHandle
	ServerQueueConfig memory.QueueMemoryConfig
	ServerQueueHandle memory.ExchangeHandle
}

// NewConnectionRequest builds a KindConnectionRequest message.
func NewConnectionRequest(req ConnectionRequest) Message {
	return Message{
		Kind:        KindConnectionRequest,
		SlotConfig:  req.SlotConfig,
		SlotHandle:  req.SlotHandle,
		QueueConfig: req.ServerQueueConfig,
		QueueHandle: req.ServerQueueHandle,
	}
}

// NewAckConnectionRequest builds a KindAckConnectionRequest message.
func NewAckConnectionRequest(cfg memory.QueueMemoryConfig, h memory.ExchangeHandle) Message {
	return Message{Kind: KindAckConnectionRequest, QueueConfig: cfg, QueueHandle: h}
}

// ConnectionRequest extracts the connection request payload.
func (m Message) ConnectionRequest() ConnectionRequest {
	return ConnectionRequest{
		SlotConfig:        m.SlotConfig,
		SlotHandle:        m.SlotHandle,
		ServerQueueConfig: m.QueueConfig,
		ServerQueueHandle: m.QueueHandle,
	}
}
