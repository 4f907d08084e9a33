package memcon

import (
	"fmt"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// stagedHandshake holds what a ConnectionRequest mapped until the server
// acknowledges queue initialization.
type stagedHandshake struct {
	req            sidechannel.ConnectionRequest
	slotMemory     memory.ReadableResource
	serverQueueMem memory.ReadWritableResource
	clientQueueMem memory.ReadWritableResource
}

func (h *stagedHandshake) release() error {
	return closeResources(h.clientQueueMem, h.serverQueueMem, h.slotMemory)
}

// connectingState waits for Connect and then runs the client half of the
// connection handshake:
//
//  1. ConnectionRequest: validate, map slot and server queue memory,
//     allocate the client queue and answer AckConnectionRequest
//  2. AckQueueInitialization: attach both queues, build the LogicClient and
//     move to Connected
type connectingState struct {
	baseState
	armed  bool
	staged *stagedHandshake
}

func newConnectingState(c *Client) *connectingState {
	return &connectingState{baseState: baseState{c: c, id: StateConnecting}}
}

func (s *connectingState) connect() error {
	if s.armed {
		return zcerrors.NewUnexpectedStateError("Connect", "Connecting (already connecting)")
	}
	s.armed = true
	return nil
}

func (s *connectingState) disconnect() error {
	s.c.logAndTransitionToRequest(StateDisconnected, nil)
	return nil
}

func (s *connectingState) onConnectionRequest(req sidechannel.ConnectionRequest) {
	if !s.armed {
		s.protocolViolation("ConnectionRequest before Connect")
		return
	}
	if s.staged != nil {
		s.protocolViolation("duplicate ConnectionRequest")
		return
	}

	if err := validateConnectionRequest(req); err != nil {
		s.corrupt(zcerrors.Wrap(zcerrors.ErrProtocol, "invalid connection request", err))
		return
	}

	staged, err := s.c.mapHandshake(req)
	if err != nil {
		s.corrupt(zcerrors.Wrap(zcerrors.ErrProtocol, "map connection request", err))
		return
	}

	ack := sidechannel.NewAckConnectionRequest(
		memory.QueueMemoryConfig{Capacity: req.SlotConfig.NumberSlots},
		staged.clientQueueMem.Handle(),
	)
	if err := s.c.channel.Send(ack); err != nil {
		_ = staged.release()
		s.corrupt(zcerrors.NewPeerCrashedError("send connection ack", err))
		return
	}

	s.staged = staged
	logger.Debug("Connection request accepted",
		logger.ClientID(s.c.id),
		logger.SlotCount(req.SlotConfig.NumberSlots),
		logger.SlotSize(req.SlotConfig.SlotContentSize),
		logger.QueueCapacity(req.ServerQueueConfig.Capacity))
}

func (s *connectingState) onAckQueueInitialization() {
	if !s.armed || s.staged == nil {
		s.protocolViolation("AckQueueInitialization before ConnectionRequest")
		return
	}

	res, err := s.finalize()
	if err != nil {
		s.corrupt(zcerrors.Wrap(zcerrors.ErrProtocol, "finalize handshake", err))
		return
	}

	// Ownership moves to the client; exit must not release it.
	s.staged = nil
	s.c.res = res
	s.c.logAndTransitionToRequest(StateConnected, nil)
}

func (s *connectingState) onShutdown() {
	s.c.logAndTransitionToRequest(StateDisconnected, zcerrors.NewPeerDisconnectedError("server shut down during handshake"))
}

func (s *connectingState) onTermination()                  { s.terminated() }
func (s *connectingState) onError(code zcerrors.ErrorCode) { s.failed(code) }

func (s *connectingState) exit() {
	if s.staged == nil {
		return
	}
	if err := s.staged.release(); err != nil {
		logger.Warn("Failed to release handshake memory", logger.ClientID(s.c.id), logger.Err(err))
	}
	s.staged = nil
}

// finalize attaches the queues the server initialized and builds the
// LogicClient.
func (s *connectingState) finalize() (*connectionResources, error) {
	st := s.staged
	slots := st.req.SlotConfig

	serverQueue, err := slotqueue.Attach(st.serverQueueMem.WritableBytes(), st.req.ServerQueueConfig.Capacity)
	if err != nil {
		return nil, fmt.Errorf("server queue: %w", err)
	}
	clientQueue, err := slotqueue.Attach(st.clientQueueMem.WritableBytes(), slots.NumberSlots)
	if err != nil {
		return nil, fmt.Errorf("client queue: %w", err)
	}

	lc, err := logic.NewClient(logic.ClientConfig{
		Slots:       slots,
		SlotMemory:  st.slotMemory.Bytes(),
		ServerQueue: serverQueue,
		ClientQueue: clientQueue,
	})
	if err != nil {
		return nil, err
	}

	return &connectionResources{
		slotMemory:     st.slotMemory,
		serverQueueMem: st.serverQueueMem,
		clientQueueMem: st.clientQueueMem,
		logic:          lc,
	}, nil
}

// validateConnectionRequest checks the layout the server announced before
// anything is mapped.
func validateConnectionRequest(req sidechannel.ConnectionRequest) error {
	slots := req.SlotConfig
	if err := slots.Validate(); err != nil {
		return err
	}
	if slots.NumberSlots > logic.MaxSlots {
		return fmt.Errorf("%d slots exceeds maximum %d", slots.NumberSlots, logic.MaxSlots)
	}
	if req.ServerQueueConfig.Capacity < slots.NumberSlots {
		return fmt.Errorf("server queue capacity %d below slot count %d",
			req.ServerQueueConfig.Capacity, slots.NumberSlots)
	}
	if !req.SlotHandle.IsValid() {
		return fmt.Errorf("slot memory %s", req.SlotHandle)
	}
	if !req.ServerQueueHandle.IsValid() {
		return fmt.Errorf("server queue memory %s", req.ServerQueueHandle)
	}
	if req.SlotHandle.Size < slots.RequiredSize() {
		return fmt.Errorf("slot memory of %d bytes too small (need %d)", req.SlotHandle.Size, slots.RequiredSize())
	}
	if need := slotqueue.RequiredSize(req.ServerQueueConfig.Capacity); req.ServerQueueHandle.Size < need {
		return fmt.Errorf("server queue memory of %d bytes too small (need %d)", req.ServerQueueHandle.Size, need)
	}
	return nil
}
