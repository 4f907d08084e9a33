package sidechannel

import (
	"errors"

	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("sidechannel: closed")

// Channel is the sending half of a side channel.
type Channel interface {
	// Send delivers msg to the peer. It does not wait for the peer to
	// process the message.
	Send(msg Message) error

	// Start launches the reactor that delivers incoming traffic to r.
	// It must be called at most once.
	Start(r Receiver)

	// Close tears the channel down. The peer observes a termination.
	Close() error
}

// Receiver consumes incoming side-channel traffic.
type Receiver interface {
	// OnMessage is called for every received message.
	OnMessage(msg Message)

	// OnTermination is called once when the peer goes away without an
	// orderly shutdown or the connection is torn down.
	OnTermination()

	// OnTransportError is called when the transport fails.
	OnTransportError(err error)
}

// Handler receives the client-side events of a zero-copy connection.
type Handler interface {
	OnConnectionRequest(req ConnectionRequest)
	OnAckQueueInitialization()
	OnShutdown()
	OnTermination()
	OnError(code zcerrors.ErrorCode)
	OnNotification()
}

// ClientReceiver adapts a Handler to a Receiver. Messages a client never
// expects are reported as protocol errors and transport failures as a
// crashed peer. A hang-up following an orderly shutdown is not a termination.
func ClientReceiver(h Handler) Receiver {
	return &clientReceiver{h: h}
}

type clientReceiver struct {
	h        Handler
	shutdown bool
}

func (c *clientReceiver) OnMessage(msg Message) {
	switch msg.Kind {
	case KindConnectionRequest:
		c.h.OnConnectionRequest(msg.ConnectionRequest())
	case KindAckQueueInitialization:
		c.h.OnAckQueueInitialization()
	case KindShutdown:
		c.shutdown = true
		c.h.OnShutdown()
	case KindNotification:
		c.h.OnNotification()
	default:
		c.h.OnError(zcerrors.ErrProtocol)
	}
}

func (c *clientReceiver) OnTermination() {
	if c.shutdown {
		return
	}
	c.h.OnTermination()
}

func (c *clientReceiver) OnTransportError(err error) {
	if code, ok := zcerrors.CodeOf(err); ok {
		c.h.OnError(code)
		return
	}
	c.h.OnError(zcerrors.ErrPeerCrashed)
}
