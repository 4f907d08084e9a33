package logic

import (
	"fmt"
	"sync"

	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// Server is the server side of one connection: it pushes slot indices to the
// client and drains the indices the client hands back.
type Server struct {
	mu sync.Mutex

	slots       memory.SlotMemoryConfig
	serverQueue *slotqueue.Queue
	clientQueue *slotqueue.Queue

	inFlight map[uint32]struct{}
}

// ServerConfig wires a Server to the queues of one connection.
type ServerConfig struct {
	Slots       memory.SlotMemoryConfig
	ServerQueue *slotqueue.Queue
	ClientQueue *slotqueue.Queue
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Slots.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServerQueue == nil || cfg.ClientQueue == nil {
		return nil, fmt.Errorf("logic: both slot queues are required")
	}
	return &Server{
		slots:       cfg.Slots,
		serverQueue: cfg.ServerQueue,
		clientQueue: cfg.ClientQueue,
		inFlight:    make(map[uint32]struct{}),
	}, nil
}

// HasRoom reports whether the server queue can take another index.
func (s *Server) HasRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverQueue.Len() < int(s.serverQueue.Capacity())
}

// Send makes the slot visible to the client. It returns false when the
// server queue is full.
func (s *Server) Send(index uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= s.slots.NumberSlots {
		return false, fmt.Errorf("logic: slot index %d out of range", index)
	}
	if _, ok := s.inFlight[index]; ok {
		return false, fmt.Errorf("logic: slot %d already in flight", index)
	}

	pushed, err := s.serverQueue.Push(index)
	if err != nil || !pushed {
		return false, err
	}
	s.inFlight[index] = struct{}{}
	return true, nil
}

// Reclaim drains the client queue and returns the released indices.
// An index that was never sent is a protocol error.
func (s *Server) Reclaim() ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed []uint32
	for {
		index, ok, err := s.clientQueue.Pop()
		if err != nil {
			return reclaimed, zcerrors.Wrap(zcerrors.ErrProtocol, "client queue", err)
		}
		if !ok {
			return reclaimed, nil
		}
		if _, sent := s.inFlight[index]; !sent {
			return reclaimed, zcerrors.Newf(zcerrors.ErrProtocol, "client released slot %d it never received", index)
		}
		delete(s.inFlight, index)
		reclaimed = append(reclaimed, index)
	}
}

// InFlight returns the indices sent but not yet reclaimed.
func (s *Server) InFlight() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint32, 0, len(s.inFlight))
	for idx := range s.inFlight {
		out = append(out, idx)
	}
	return out
}
