package producer

import (
	"log/slog"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// phase is the server's view of one client connection.
type phase int

const (
	phaseHandshake phase = iota
	phaseConnected
	phaseGone
)

func (p phase) String() string {
	switch p {
	case phaseHandshake:
		return "handshake"
	case phaseConnected:
		return "connected"
	default:
		return "gone"
	}
}

// conn is one client of the Server. It receives the client's side-channel
// traffic; every field is guarded by the server mutex.
type conn struct {
	id      uint64
	server  *Server
	channel sidechannel.Channel
	phase   phase

	serverQueueMem memory.ReadWritableResource
	serverQueue    *slotqueue.Queue
	clientQueueMem memory.ReadWritableResource
	logic          *logic.Server
	listening      bool
}

func slogConn(id uint64) slog.Attr {
	return slog.Uint64("conn", id)
}

// release closes the side channel and unmaps the queues.
func (c *conn) release() {
	if err := c.channel.Close(); err != nil {
		logger.Debug("Side channel close failed", slogConn(c.id), logger.Err(err))
	}
	for _, r := range []memory.ReadableResource{c.clientQueueMem, c.serverQueueMem} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			logger.Debug("Queue unmap failed", slogConn(c.id), logger.Err(err))
		}
	}
	c.clientQueueMem, c.serverQueueMem = nil, nil
}

// OnMessage implements sidechannel.Receiver.
func (c *conn) OnMessage(msg sidechannel.Message) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.phase == phaseGone {
		return
	}

	switch {
	case msg.Kind == sidechannel.KindAckConnectionRequest && c.phase == phaseHandshake:
		if err := s.completeHandshake(c, msg); err != nil {
			logger.Warn("Handshake failed", slogConn(c.id), logger.Err(err))
			s.dropLocked(c, ReasonProtocol)
		}
	case msg.Kind == sidechannel.KindStartListening && c.phase == phaseConnected:
		c.listening = true
	case msg.Kind == sidechannel.KindStopListening && c.phase == phaseConnected:
		c.listening = false
	case msg.Kind == sidechannel.KindShutdown:
		s.dropLocked(c, ReasonShutdown)
	default:
		logger.Warn("Unexpected client message", slogConn(c.id), "kind", msg.Kind.String(), "phase", c.phase.String())
		s.dropLocked(c, ReasonProtocol)
	}
}

// OnTermination implements sidechannel.Receiver.
func (c *conn) OnTermination() {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c, ReasonTerminated)
}

// OnTransportError implements sidechannel.Receiver.
func (c *conn) OnTransportError(err error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	reason := ReasonTerminated
	if zcerrors.IsProtocol(err) {
		reason = ReasonProtocol
	}
	logger.Warn("Side channel failure", slogConn(c.id), logger.Err(err))
	s.dropLocked(c, reason)
}
