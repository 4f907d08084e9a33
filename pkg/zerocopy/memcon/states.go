package memcon

import (
	"fmt"

	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
)

// ============================================================================
// Client State
// ============================================================================

// ClientState is the protocol phase of a Client.
type ClientState int32

const (
	// StateConnecting is the initial state: waiting for Connect and then for
	// the server's connection handshake.
	StateConnecting ClientState = iota

	// StateConnected means the handshake completed and slots can be received.
	StateConnected

	// StateDisconnectedRemote means the server shut down cleanly. Slots
	// already in flight can still be drained.
	StateDisconnectedRemote

	// StateCorrupted means the server crashed or violated the protocol. The
	// memory mapping survives but no further communication happens.
	StateCorrupted

	// StateDisconnected means the client was disconnected and its resources
	// released.
	StateDisconnected
)

// String returns the state name.
func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnectedRemote:
		return "DisconnectedRemote"
	case StateCorrupted:
		return "Corrupted"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("ClientState(%d)", int32(s))
	}
}

// state is one protocol state of a Client. Methods run with the client mutex
// held and may file at most one transition request.
type state interface {
	clientState() ClientState

	// Side-channel events.
	onConnectionRequest(req sidechannel.ConnectionRequest)
	onAckQueueInitialization()
	onShutdown()
	onTermination()
	onError(code zcerrors.ErrorCode)

	// notify reports whether a slot notification is delivered in this state.
	notify() bool

	// User operations.
	connect() error
	disconnect() error
	startListening(cb OnNotificationCallback) error
	stopListening() error
	receiveSlot() (*logic.SlotToken, error)
	accessSlotContent(token *logic.SlotToken) ([]byte, error)
	releaseSlot(token *logic.SlotToken) error
	slotMemoryDescriptor() (memory.ReadableDescriptor, error)

	// exit runs when the state is replaced.
	exit()
}

// baseState rejects every operation and ignores every event. Concrete states
// embed it and override what they accept.
type baseState struct {
	c  *Client
	id ClientState
}

func (b *baseState) clientState() ClientState { return b.id }

func (b *baseState) onConnectionRequest(sidechannel.ConnectionRequest) {}
func (b *baseState) onAckQueueInitialization()                         {}
func (b *baseState) onShutdown()                                       {}
func (b *baseState) onTermination()                                    {}
func (b *baseState) onError(zcerrors.ErrorCode)                        {}
func (b *baseState) notify() bool                                      { return false }
func (b *baseState) exit()                                             {}

func (b *baseState) unexpected(op string) error {
	return zcerrors.NewUnexpectedStateError(op, b.id.String())
}

func (b *baseState) connect() error    { return b.unexpected("Connect") }
func (b *baseState) disconnect() error { return b.unexpected("Disconnect") }

func (b *baseState) startListening(OnNotificationCallback) error {
	return b.unexpected("StartListening")
}

func (b *baseState) stopListening() error { return b.unexpected("StopListening") }

func (b *baseState) receiveSlot() (*logic.SlotToken, error) {
	return nil, b.unexpected("ReceiveSlot")
}

func (b *baseState) accessSlotContent(*logic.SlotToken) ([]byte, error) {
	return nil, b.unexpected("AccessSlotContent")
}

func (b *baseState) releaseSlot(*logic.SlotToken) error { return b.unexpected("ReleaseSlot") }

func (b *baseState) slotMemoryDescriptor() (memory.ReadableDescriptor, error) {
	return memory.ReadableDescriptor{Handle: memory.InvalidHandle()}, b.unexpected("GetSlotMemoryResourceDescriptor")
}

// corrupt files a transition to Corrupted caused by err.
func (b *baseState) corrupt(err error) {
	b.c.logAndTransitionToRequest(StateCorrupted, err)
}

// protocolViolation files a transition to Corrupted for an event the current
// state does not expect.
func (b *baseState) protocolViolation(event string) {
	b.corrupt(zcerrors.Newf(zcerrors.ErrProtocol, "%s unexpected in state %s", event, b.id))
}

// ============================================================================
// Shared event reactions
// ============================================================================

func (b *baseState) terminated() {
	b.corrupt(zcerrors.NewPeerCrashedError("side channel terminated", nil))
}

func (b *baseState) failed(code zcerrors.ErrorCode) {
	b.corrupt(zcerrors.New(code, "reported by side channel"))
}

// ============================================================================
// Connected
// ============================================================================

type connectedState struct {
	baseState
}

func newConnectedState(c *Client) *connectedState {
	return &connectedState{baseState{c: c, id: StateConnected}}
}

func (s *connectedState) onConnectionRequest(sidechannel.ConnectionRequest) {
	s.protocolViolation("ConnectionRequest")
}

func (s *connectedState) onAckQueueInitialization() {
	s.protocolViolation("AckQueueInitialization")
}

func (s *connectedState) onShutdown() {
	s.c.logAndTransitionToRequest(StateDisconnectedRemote, zcerrors.NewPeerDisconnectedError("server shut down"))
}

func (s *connectedState) onTermination()                  { s.terminated() }
func (s *connectedState) onError(code zcerrors.ErrorCode) { s.failed(code) }
func (s *connectedState) notify() bool                    { return s.c.listening }

func (s *connectedState) disconnect() error {
	if err := s.c.channel.Send(sidechannel.Message{Kind: sidechannel.KindShutdown}); err != nil {
		crashed := zcerrors.NewPeerCrashedError("send shutdown", err)
		s.c.logAndTransitionToRequest(StateDisconnected, crashed)
		return crashed
	}
	s.c.logAndTransitionToRequest(StateDisconnected, nil)
	return nil
}

func (s *connectedState) startListening(cb OnNotificationCallback) error {
	if s.c.listening || s.c.notificationsInUse.Load() > 0 {
		return zcerrors.NewUnexpectedStateError("StartListening", "listening")
	}
	if err := s.c.channel.Send(sidechannel.Message{Kind: sidechannel.KindStartListening}); err != nil {
		crashed := zcerrors.NewPeerCrashedError("send start listening", err)
		s.corrupt(crashed)
		return crashed
	}
	s.c.listening = true
	s.c.onNotification = cb
	return nil
}

func (s *connectedState) stopListening() error {
	if !s.c.listening {
		return zcerrors.NewUnexpectedStateError("StopListening", "polling")
	}
	s.c.listening = false
	s.c.onNotification = nil
	if err := s.c.channel.Send(sidechannel.Message{Kind: sidechannel.KindStopListening}); err != nil {
		crashed := zcerrors.NewPeerCrashedError("send stop listening", err)
		s.corrupt(crashed)
		return crashed
	}
	return nil
}

func (s *connectedState) receiveSlot() (*logic.SlotToken, error) {
	return s.c.res.receiveSlot(&s.baseState)
}

func (s *connectedState) accessSlotContent(token *logic.SlotToken) ([]byte, error) {
	return s.c.res.accessSlotContent(s.c, token)
}

func (s *connectedState) releaseSlot(token *logic.SlotToken) error {
	return s.c.res.releaseSlot(&s.baseState, token)
}

func (s *connectedState) slotMemoryDescriptor() (memory.ReadableDescriptor, error) {
	return s.c.res.descriptor(s.c.integrity)
}

// ============================================================================
// DisconnectedRemote
// ============================================================================

type disconnectedRemoteState struct {
	baseState
}

func newDisconnectedRemoteState(c *Client) *disconnectedRemoteState {
	return &disconnectedRemoteState{baseState{c: c, id: StateDisconnectedRemote}}
}

func (s *disconnectedRemoteState) onConnectionRequest(sidechannel.ConnectionRequest) {
	s.protocolViolation("ConnectionRequest")
}

func (s *disconnectedRemoteState) onAckQueueInitialization() {
	s.protocolViolation("AckQueueInitialization")
}

func (s *disconnectedRemoteState) onShutdown() {
	s.protocolViolation("duplicate Shutdown")
}

func (s *disconnectedRemoteState) onTermination() { s.terminated() }

func (s *disconnectedRemoteState) onError(code zcerrors.ErrorCode) {
	if code == zcerrors.ErrPeerDisconnected {
		return
	}
	s.failed(code)
}

func (s *disconnectedRemoteState) disconnect() error {
	s.c.logAndTransitionToRequest(StateDisconnected, nil)
	return nil
}

func (s *disconnectedRemoteState) startListening(OnNotificationCallback) error {
	return zcerrors.NewPeerDisconnectedError("server shut down")
}

func (s *disconnectedRemoteState) stopListening() error {
	s.c.listening = false
	s.c.onNotification = nil
	return nil
}

func (s *disconnectedRemoteState) receiveSlot() (*logic.SlotToken, error) {
	return s.c.res.receiveSlot(&s.baseState)
}

func (s *disconnectedRemoteState) accessSlotContent(token *logic.SlotToken) ([]byte, error) {
	return s.c.res.accessSlotContent(s.c, token)
}

func (s *disconnectedRemoteState) releaseSlot(token *logic.SlotToken) error {
	return s.c.res.releaseSlot(&s.baseState, token)
}

func (s *disconnectedRemoteState) slotMemoryDescriptor() (memory.ReadableDescriptor, error) {
	return s.c.res.descriptor(s.c.integrity)
}

// ============================================================================
// Corrupted
// ============================================================================

// corruptedState refuses further communication. Slot memory obtained before
// the corruption stays readable until Disconnect.
type corruptedState struct {
	baseState
	cause error
}

func newCorruptedState(c *Client, cause error) *corruptedState {
	if cause == nil {
		cause = zcerrors.NewProtocolError("corrupted")
	}
	return &corruptedState{baseState: baseState{c: c, id: StateCorrupted}, cause: cause}
}

func (s *corruptedState) disconnect() error {
	s.c.logAndTransitionToRequest(StateDisconnected, nil)
	return s.cause
}

func (s *corruptedState) startListening(OnNotificationCallback) error { return s.cause }
func (s *corruptedState) stopListening() error                        { return s.cause }

func (s *corruptedState) receiveSlot() (*logic.SlotToken, error) { return nil, s.cause }

func (s *corruptedState) accessSlotContent(token *logic.SlotToken) ([]byte, error) {
	if s.c.res == nil {
		return s.baseState.accessSlotContent(token)
	}
	return s.c.res.accessSlotContent(s.c, token)
}

func (s *corruptedState) releaseSlot(token *logic.SlotToken) error {
	if s.c.res == nil {
		return s.baseState.releaseSlot(token)
	}
	if err := s.c.res.logic.ReleaseSlotLocal(token); err != nil {
		s.c.metrics.RecordTokenRejected("ReleaseSlot")
		return err
	}
	s.c.metrics.SetOutstandingSlots(s.c.res.logic.Outstanding())
	return nil
}

func (s *corruptedState) slotMemoryDescriptor() (memory.ReadableDescriptor, error) {
	if s.c.res == nil {
		return s.baseState.slotMemoryDescriptor()
	}
	return s.c.res.descriptor(s.c.integrity)
}

// ============================================================================
// Disconnected
// ============================================================================

type disconnectedState struct {
	baseState
}

// newDisconnectedState closes the side channel and releases every resource
// of the connection. Outstanding tokens are invalidated.
func newDisconnectedState(c *Client) *disconnectedState {
	c.teardown()
	return &disconnectedState{baseState{c: c, id: StateDisconnected}}
}
