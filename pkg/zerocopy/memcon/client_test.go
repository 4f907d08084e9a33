package memcon

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/memory"
	"github.com/marmos91/zerocopy/pkg/metrics"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSlots = 4

// flakyChannel wraps a pipe end and fails sends on demand.
type flakyChannel struct {
	*sidechannel.PipeEnd
	fail atomic.Bool
}

func (f *flakyChannel) Send(msg sidechannel.Message) error {
	if f.fail.Load() {
		return errors.New("broken pipe")
	}
	return f.PipeEnd.Send(msg)
}

// serverInbox records what the client sends to the server.
type serverInbox struct {
	messages chan sidechannel.Message
}

func (s *serverInbox) OnMessage(msg sidechannel.Message) { s.messages <- msg }
func (s *serverInbox) OnTermination()                    {}
func (s *serverInbox) OnTransportError(error)            {}

// transitionLog records OnStateTransitionCallback invocations.
type transitionLog struct {
	mu     sync.Mutex
	states []ClientState
	errs   []error
}

func (l *transitionLog) record(s ClientState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
	l.errs = append(l.errs, err)
}

func (l *transitionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

func (l *transitionLog) last() (ClientState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return -1, nil
	}
	return l.states[len(l.states)-1], l.errs[len(l.errs)-1]
}

// fixture plays the server side of one connection.
type fixture struct {
	provider    *memory.HeapProvider
	channel     *flakyChannel
	inbox       *serverInbox
	client      *Client
	transitions *transitionLog

	slots          memory.SlotMemoryConfig
	slotMem        memory.ReadWritableResource
	serverQueueMem memory.ReadWritableResource
	clientQueueMem memory.ReadWritableResource
	serverQueue    *slotqueue.Queue
	logic          *logic.Server
	request        sidechannel.ConnectionRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	serverEnd, clientEnd := sidechannel.NewPipe(0)
	inbox := &serverInbox{messages: make(chan sidechannel.Message, 64)}
	serverEnd.Start(inbox)

	f := &fixture{
		provider:    memory.NewHeapProvider(),
		channel:     &flakyChannel{PipeEnd: clientEnd},
		inbox:       inbox,
		transitions: &transitionLog{},
		slots:       memory.SlotMemoryConfig{NumberSlots: testSlots, SlotContentSize: 32, SlotContentAlignment: 16},
	}

	var err error
	f.slotMem, err = f.provider.Allocate(memory.AllocateOptions{Size: f.slots.RequiredSize()})
	require.NoError(t, err)
	f.serverQueueMem, err = f.provider.Allocate(memory.AllocateOptions{Size: slotqueue.RequiredSize(testSlots)})
	require.NoError(t, err)
	f.serverQueue, err = slotqueue.Initialize(f.serverQueueMem.WritableBytes(), testSlots)
	require.NoError(t, err)

	f.request = sidechannel.ConnectionRequest{
		SlotConfig:        f.slots,
		SlotHandle:        f.slotMem.Handle(),
		ServerQueueConfig: memory.QueueMemoryConfig{Capacity: testSlots},
		ServerQueueHandle: f.serverQueueMem.Handle(),
	}

	f.client, err = NewClient(Config{
		Channel:   f.channel,
		Provider:  f.provider,
		Instance:  "test",
		Integrity: memory.IntegrityASILB,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = serverEnd.Close()
	})
	return f
}

func (f *fixture) expectMessage(t *testing.T, kind sidechannel.Kind) sidechannel.Message {
	t.Helper()
	select {
	case msg := <-f.inbox.messages:
		require.Equal(t, kind, msg.Kind)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
		return sidechannel.Message{}
	}
}

func (f *fixture) assertNoMessage(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.inbox.messages:
		t.Fatalf("unexpected message %s", msg.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

// arm calls Connect.
func (f *fixture) arm(t *testing.T) {
	t.Helper()
	require.NoError(t, f.client.Connect(f.transitions.record))
}

// connect runs the full handshake and leaves the client Connected.
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.arm(t)

	f.client.OnConnectionRequest(f.request)
	require.Equal(t, StateConnecting, f.client.GetState())
	ack := f.expectMessage(t, sidechannel.KindAckConnectionRequest)

	var err error
	f.clientQueueMem, err = f.provider.MapReadWritable(ack.QueueHandle)
	require.NoError(t, err)
	clientQueue, err := slotqueue.Initialize(f.clientQueueMem.WritableBytes(), ack.QueueConfig.Capacity)
	require.NoError(t, err)
	f.logic, err = logic.NewServer(logic.ServerConfig{Slots: f.slots, ServerQueue: f.serverQueue, ClientQueue: clientQueue})
	require.NoError(t, err)

	f.client.OnAckQueueInitialization()
	require.Equal(t, StateConnected, f.client.GetState())
}

// send writes payload into the slot and makes it visible to the client.
func (f *fixture) send(t *testing.T, index uint32, payload string) {
	t.Helper()
	copy(f.slotMem.WritableBytes()[f.slots.SlotOffset(index):], payload)
	ok, err := f.logic.Send(index)
	require.NoError(t, err)
	require.True(t, ok)
}

// closeServerMemory drops the server's own mappings.
func (f *fixture) closeServerMemory() {
	for _, r := range []memory.ReadableResource{f.slotMem, f.serverQueueMem, f.clientQueueMem} {
		if r != nil {
			_ = r.Close()
		}
	}
}

func causeOf(c *Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sm.current.(*corruptedState); ok {
		return s.cause
	}
	return nil
}

func codeOf(err error) zcerrors.ErrorCode {
	code, _ := zcerrors.CodeOf(err)
	return code
}

// ============================================================================
// Handshake
// ============================================================================

func TestClient_Handshake(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, StateConnecting, f.client.GetState())
	f.connect(t)

	state, err := f.transitions.last()
	assert.Equal(t, StateConnected, state)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.transitions.count())

	d, err := f.client.GetSlotMemoryResourceDescriptor()
	require.NoError(t, err)
	assert.True(t, d.IsValid())
	assert.Equal(t, f.slotMem.Handle(), d.Handle)
	assert.Equal(t, memory.IntegrityASILB, d.Integrity)
}

func TestClient_AckCarriesClientQueue(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	f.client.OnConnectionRequest(f.request)
	ack := f.expectMessage(t, sidechannel.KindAckConnectionRequest)

	assert.Equal(t, uint32(testSlots), ack.QueueConfig.Capacity)
	assert.True(t, ack.QueueHandle.IsValid())
	assert.GreaterOrEqual(t, ack.QueueHandle.Size, slotqueue.RequiredSize(testSlots))
}

func TestClient_ConnectTwice(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	err := f.client.Connect(nil)
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.Equal(t, StateConnecting, f.client.GetState())
}

func TestClient_ConnectAfterHandshake(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	err := f.client.Connect(nil)
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.Equal(t, StateConnected, f.client.GetState())
}

func TestClient_InvalidConnectionRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *sidechannel.ConnectionRequest)
	}{
		{"ZeroSlots", func(r *sidechannel.ConnectionRequest) { r.SlotConfig.NumberSlots = 0 }},
		{"TooManySlots", func(r *sidechannel.ConnectionRequest) {
			r.SlotConfig.NumberSlots = logic.MaxSlots + 1
			r.ServerQueueConfig.Capacity = logic.MaxSlots + 1
		}},
		{"ZeroContentSize", func(r *sidechannel.ConnectionRequest) { r.SlotConfig.SlotContentSize = 0 }},
		{"BadAlignment", func(r *sidechannel.ConnectionRequest) { r.SlotConfig.SlotContentAlignment = 12 }},
		{"QueueTooSmall", func(r *sidechannel.ConnectionRequest) { r.ServerQueueConfig.Capacity = testSlots - 1 }},
		{"InvalidSlotHandle", func(r *sidechannel.ConnectionRequest) { r.SlotHandle = memory.InvalidHandle() }},
		{"InvalidQueueHandle", func(r *sidechannel.ConnectionRequest) { r.ServerQueueHandle = memory.InvalidHandle() }},
		{"SlotMemoryTooSmall", func(r *sidechannel.ConnectionRequest) { r.SlotConfig.SlotContentSize = 1024 }},
		{"QueueMemoryTooSmall", func(r *sidechannel.ConnectionRequest) { r.ServerQueueHandle.Size = slotqueue.HeaderSize }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.arm(t)

			req := f.request
			tt.mutate(&req)
			f.client.OnConnectionRequest(req)

			assert.Equal(t, StateCorrupted, f.client.GetState())
			assert.True(t, zcerrors.IsProtocol(causeOf(f.client)))
			f.assertNoMessage(t)
		})
	}
}

func TestClient_AckSendFailure(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	f.channel.fail.Store(true)
	f.client.OnConnectionRequest(f.request)

	assert.Equal(t, StateCorrupted, f.client.GetState())
	assert.True(t, zcerrors.IsPeerCrashed(causeOf(f.client)))
	// Only the server's two objects remain; the client queue was released.
	assert.Equal(t, 2, f.provider.Len())
}

func TestClient_ShutdownDuringHandshakeReleasesStagedMemory(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	f.client.OnConnectionRequest(f.request)
	f.expectMessage(t, sidechannel.KindAckConnectionRequest)
	assert.Equal(t, 3, f.provider.Len())

	f.client.OnShutdown()

	assert.Equal(t, StateDisconnected, f.client.GetState())
	assert.Equal(t, 2, f.provider.Len())
	state, err := f.transitions.last()
	assert.Equal(t, StateDisconnected, state)
	assert.True(t, zcerrors.IsPeerDisconnected(err))
}

func TestClient_AckWithUninitializedQueues(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	f.client.OnConnectionRequest(f.request)
	f.expectMessage(t, sidechannel.KindAckConnectionRequest)

	// The server never initialized the client queue.
	f.client.OnAckQueueInitialization()

	assert.Equal(t, StateCorrupted, f.client.GetState())
	assert.True(t, zcerrors.IsProtocol(causeOf(f.client)))
	assert.Equal(t, 2, f.provider.Len())
}

// ============================================================================
// State-event matrix
// ============================================================================

type event struct {
	name string
	fire func(f *fixture)
}

var (
	evConnectionRequest = event{"ConnectionRequest", func(f *fixture) { f.client.OnConnectionRequest(f.request) }}
	evQueueAck          = event{"AckQueueInitialization", func(f *fixture) { f.client.OnAckQueueInitialization() }}
	evShutdown          = event{"Shutdown", func(f *fixture) { f.client.OnShutdown() }}
	evTermination       = event{"Termination", func(f *fixture) { f.client.OnTermination() }}
	evProtocolError     = event{"Error(Protocol)", func(f *fixture) { f.client.OnError(zcerrors.ErrProtocol) }}
	evPeerDisconnected  = event{"Error(PeerDisconnected)", func(f *fixture) { f.client.OnError(zcerrors.ErrPeerDisconnected) }}
)

type setup struct {
	name  string
	state ClientState
	enter func(t *testing.T, f *fixture)
}

var (
	setupUnarmed   = setup{"ConnectingUnarmed", StateConnecting, func(*testing.T, *fixture) {}}
	setupArmed     = setup{"ConnectingArmed", StateConnecting, func(t *testing.T, f *fixture) { f.arm(t) }}
	setupConnected = setup{"Connected", StateConnected, func(t *testing.T, f *fixture) { f.connect(t) }}
	setupRemote    = setup{"DisconnectedRemote", StateDisconnectedRemote, func(t *testing.T, f *fixture) {
		f.connect(t)
		f.client.OnShutdown()
	}}
	setupCorrupted = setup{"Corrupted", StateCorrupted, func(t *testing.T, f *fixture) {
		f.connect(t)
		f.client.OnTermination()
	}}
	setupDisconnected = setup{"Disconnected", StateDisconnected, func(t *testing.T, f *fixture) {
		f.connect(t)
		require.NoError(t, f.client.Disconnect())
	}}
)

func TestClient_StateEventMatrix(t *testing.T) {
	tests := []struct {
		from  setup
		event event
		want  ClientState
		code  zcerrors.ErrorCode // cause when want is Corrupted
	}{
		{setupUnarmed, evConnectionRequest, StateCorrupted, zcerrors.ErrProtocol},
		{setupUnarmed, evQueueAck, StateCorrupted, zcerrors.ErrProtocol},
		{setupUnarmed, evShutdown, StateDisconnected, 0},
		{setupUnarmed, evTermination, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupUnarmed, evProtocolError, StateCorrupted, zcerrors.ErrProtocol},

		{setupArmed, evConnectionRequest, StateConnecting, 0},
		{setupArmed, evQueueAck, StateCorrupted, zcerrors.ErrProtocol},
		{setupArmed, evShutdown, StateDisconnected, 0},
		{setupArmed, evTermination, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupArmed, evPeerDisconnected, StateCorrupted, zcerrors.ErrPeerDisconnected},

		{setupConnected, evConnectionRequest, StateCorrupted, zcerrors.ErrProtocol},
		{setupConnected, evQueueAck, StateCorrupted, zcerrors.ErrProtocol},
		{setupConnected, evShutdown, StateDisconnectedRemote, 0},
		{setupConnected, evTermination, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupConnected, evProtocolError, StateCorrupted, zcerrors.ErrProtocol},

		{setupRemote, evConnectionRequest, StateCorrupted, zcerrors.ErrProtocol},
		{setupRemote, evQueueAck, StateCorrupted, zcerrors.ErrProtocol},
		{setupRemote, evShutdown, StateCorrupted, zcerrors.ErrProtocol},
		{setupRemote, evTermination, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupRemote, evPeerDisconnected, StateDisconnectedRemote, 0},
		{setupRemote, evProtocolError, StateCorrupted, zcerrors.ErrProtocol},

		{setupCorrupted, evConnectionRequest, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupCorrupted, evQueueAck, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupCorrupted, evShutdown, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupCorrupted, evTermination, StateCorrupted, zcerrors.ErrPeerCrashed},
		{setupCorrupted, evProtocolError, StateCorrupted, zcerrors.ErrPeerCrashed},

		{setupDisconnected, evConnectionRequest, StateDisconnected, 0},
		{setupDisconnected, evQueueAck, StateDisconnected, 0},
		{setupDisconnected, evShutdown, StateDisconnected, 0},
		{setupDisconnected, evTermination, StateDisconnected, 0},
		{setupDisconnected, evProtocolError, StateDisconnected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.from.name+"/"+tt.event.name, func(t *testing.T) {
			f := newFixture(t)
			tt.from.enter(t, f)
			require.Equal(t, tt.from.state, f.client.GetState())

			tt.event.fire(f)

			assert.Equal(t, tt.want, f.client.GetState())
			assert.False(t, f.client.sm.HasPendingRequest())
			if tt.want == StateCorrupted {
				assert.Equal(t, tt.code, codeOf(causeOf(f.client)))
			}
		})
	}
}

func TestClient_TerminalStatesIgnoreEvents(t *testing.T) {
	for _, s := range []setup{setupCorrupted, setupDisconnected} {
		t.Run(s.name, func(t *testing.T) {
			f := newFixture(t)
			s.enter(t, f)
			before := f.transitions.count()

			for _, ev := range []event{evConnectionRequest, evQueueAck, evShutdown, evTermination, evProtocolError, evPeerDisconnected} {
				ev.fire(f)
				assert.Equal(t, s.state, f.client.GetState(), ev.name)
			}
			assert.Equal(t, before, f.transitions.count())
		})
	}
}

// ============================================================================
// Listening and notifications
// ============================================================================

func TestClient_StartListeningTwice(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.client.StartListening(func() {}))
	f.expectMessage(t, sidechannel.KindStartListening)

	err := f.client.StartListening(func() {})
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.Equal(t, StateConnected, f.client.GetState())
	f.assertNoMessage(t)

	require.NoError(t, f.client.StopListening())
	f.expectMessage(t, sidechannel.KindStopListening)
	require.NoError(t, f.client.StartListening(func() {}))
}

func TestClient_StopListeningWhilePolling(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	assert.True(t, zcerrors.IsUnexpectedState(f.client.StopListening()))
}

func TestClient_StartListeningNilCallback(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	assert.True(t, zcerrors.IsUnexpectedState(f.client.StartListening(nil)))
}

func TestClient_Notifications(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var calls atomic.Int32
	f.client.OnNotification()
	assert.Equal(t, int32(0), calls.Load(), "polling mode delivers nothing")

	require.NoError(t, f.client.StartListening(func() { calls.Add(1) }))
	f.client.OnNotification()
	f.client.OnNotification()
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, f.client.StopListening())
	f.client.OnNotification()
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NotificationsOnlyWhenConnected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var calls atomic.Int32
	require.NoError(t, f.client.StartListening(func() { calls.Add(1) }))
	f.client.OnShutdown()
	require.Equal(t, StateDisconnectedRemote, f.client.GetState())

	f.client.OnNotification()
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_NotificationCallbackInUse(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var (
		inUse      bool
		busy       bool
		restartErr error
	)
	require.NoError(t, f.client.StartListening(func() {
		inUse = f.client.IsOnNotificationCallbackInUse()
		busy = f.client.IsInUse()
		// The callback may re-enter the client.
		require.NoError(t, f.client.StopListening())
		restartErr = f.client.StartListening(func() {})
	}))

	f.client.OnNotification()

	assert.True(t, inUse)
	assert.True(t, busy)
	assert.True(t, zcerrors.IsUnexpectedState(restartErr), "restart refused while the callback runs")
	assert.False(t, f.client.IsOnNotificationCallbackInUse())
	assert.False(t, f.client.IsInUse())
}

func TestClient_StartListeningSendFailure(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.channel.fail.Store(true)
	err := f.client.StartListening(func() {})

	assert.True(t, zcerrors.IsPeerCrashed(err))
	assert.Equal(t, StateCorrupted, f.client.GetState())
	state, cause := f.transitions.last()
	assert.Equal(t, StateCorrupted, state)
	assert.True(t, zcerrors.IsPeerCrashed(cause))
}

func TestClient_ListeningInOtherStates(t *testing.T) {
	tests := []struct {
		from      setup
		startCode zcerrors.ErrorCode
		stopCode  zcerrors.ErrorCode // 0 means success
	}{
		{setupUnarmed, zcerrors.ErrUnexpectedState, zcerrors.ErrUnexpectedState},
		{setupArmed, zcerrors.ErrUnexpectedState, zcerrors.ErrUnexpectedState},
		{setupRemote, zcerrors.ErrPeerDisconnected, 0},
		{setupCorrupted, zcerrors.ErrPeerCrashed, zcerrors.ErrPeerCrashed},
		{setupDisconnected, zcerrors.ErrUnexpectedState, zcerrors.ErrUnexpectedState},
	}

	for _, tt := range tests {
		t.Run(tt.from.name, func(t *testing.T) {
			f := newFixture(t)
			tt.from.enter(t, f)

			assert.Equal(t, tt.startCode, codeOf(f.client.StartListening(func() {})))
			err := f.client.StopListening()
			if tt.stopCode == 0 {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.stopCode, codeOf(err))
			}
			assert.Equal(t, tt.from.state, f.client.GetState())
		})
	}
}

// ============================================================================
// Slots
// ============================================================================

func TestClient_SlotRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	token, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	assert.Nil(t, token, "nothing sent yet")

	f.send(t, 2, "frame-1")
	token, err = f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, uint32(2), token.Index())

	content, err := f.client.AccessSlotContent(token)
	require.NoError(t, err)
	assert.Len(t, content, 32)
	assert.Equal(t, "frame-1", string(content[:7]))

	require.NoError(t, f.client.ReleaseSlot(token))
	reclaimed, err := f.logic.Reclaim()
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, reclaimed)

	// The same slot may come back once released.
	f.send(t, 2, "frame-2")
	again, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, uint32(2), again.Index())
	assert.Equal(t, StateConnected, f.client.GetState())
}

func TestClient_TokenDiscipline(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.send(t, 0, "x")

	token, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NoError(t, f.client.ReleaseSlot(token))

	t.Run("ReleaseTwice", func(t *testing.T) {
		assert.True(t, zcerrors.IsUnexpectedState(f.client.ReleaseSlot(token)))
	})
	t.Run("AccessAfterRelease", func(t *testing.T) {
		_, err := f.client.AccessSlotContent(token)
		assert.True(t, zcerrors.IsUnexpectedState(err))
	})
	t.Run("NilToken", func(t *testing.T) {
		assert.True(t, zcerrors.IsUnexpectedState(f.client.ReleaseSlot(nil)))
	})

	assert.Equal(t, StateConnected, f.client.GetState(), "token misuse is not a protocol error")
}

func TestClient_DuplicateReceiveCorrupts(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	// A misbehaving server publishes slot 1 twice.
	copy(f.slotMem.WritableBytes()[f.slots.SlotOffset(1):], "dup")
	for range 2 {
		ok, err := f.serverQueue.Push(1)
		require.NoError(t, err)
		require.True(t, ok)
	}

	token, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NotNil(t, token)

	_, err = f.client.ReceiveSlot()
	assert.True(t, zcerrors.IsProtocol(err))
	assert.Equal(t, StateCorrupted, f.client.GetState())

	// The mapping survives corruption.
	content, err := f.client.AccessSlotContent(token)
	require.NoError(t, err)
	assert.Equal(t, "dup", string(content[:3]))

	d, err := f.client.GetSlotMemoryResourceDescriptor()
	require.NoError(t, err)
	assert.True(t, d.IsValid())

	// Release is local only; nothing reaches the client queue.
	require.NoError(t, f.client.ReleaseSlot(token))
	reclaimed, err := f.logic.Reclaim()
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	_, err = f.client.ReceiveSlot()
	assert.True(t, zcerrors.IsProtocol(err), "receive reports the corruption cause")

	assert.True(t, zcerrors.IsProtocol(f.client.Disconnect()))
	assert.Equal(t, StateDisconnected, f.client.GetState())
}

func TestClient_DrainAfterRemoteShutdown(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.send(t, 3, "last")

	f.client.OnShutdown()
	require.Equal(t, StateDisconnectedRemote, f.client.GetState())

	token, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NotNil(t, token)
	content, err := f.client.AccessSlotContent(token)
	require.NoError(t, err)
	assert.Equal(t, "last", string(content[:4]))
	require.NoError(t, f.client.ReleaseSlot(token))

	token, err = f.client.ReceiveSlot()
	require.NoError(t, err)
	assert.Nil(t, token)

	require.NoError(t, f.client.Disconnect())
}

func TestClient_SlotOperationsInConnecting(t *testing.T) {
	f := newFixture(t)
	f.arm(t)

	_, err := f.client.ReceiveSlot()
	assert.True(t, zcerrors.IsUnexpectedState(err))
	_, err = f.client.AccessSlotContent(nil)
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.True(t, zcerrors.IsUnexpectedState(f.client.ReleaseSlot(nil)))

	d, err := f.client.GetSlotMemoryResourceDescriptor()
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.False(t, d.IsValid())
}

func TestClient_CorruptedBeforeHandshakeHasNoMemory(t *testing.T) {
	f := newFixture(t)
	f.client.OnTermination()
	require.Equal(t, StateCorrupted, f.client.GetState())

	_, err := f.client.GetSlotMemoryResourceDescriptor()
	assert.True(t, zcerrors.IsUnexpectedState(err))
	_, err = f.client.AccessSlotContent(nil)
	assert.True(t, zcerrors.IsUnexpectedState(err))
}

// ============================================================================
// Disconnect
// ============================================================================

func TestClient_Disconnect(t *testing.T) {
	tests := []struct {
		from          setup
		code          zcerrors.ErrorCode // 0 means nil
		sendsShutdown bool
	}{
		{from: setupUnarmed},
		{from: setupArmed},
		{from: setupConnected, sendsShutdown: true},
		{from: setupRemote},
		{from: setupCorrupted, code: zcerrors.ErrPeerCrashed},
		{from: setupDisconnected, code: zcerrors.ErrUnexpectedState},
	}

	for _, tt := range tests {
		t.Run(tt.from.name, func(t *testing.T) {
			f := newFixture(t)
			tt.from.enter(t, f)
			if tt.from.state == StateDisconnected {
				f.expectMessage(t, sidechannel.KindShutdown)
			}

			err := f.client.Disconnect()
			if tt.code == 0 {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.code, codeOf(err))
			}
			assert.Equal(t, StateDisconnected, f.client.GetState())

			if tt.sendsShutdown {
				f.expectMessage(t, sidechannel.KindShutdown)
			} else {
				f.assertNoMessage(t)
			}
		})
	}
}

func TestClient_DisconnectShutdownSendFails(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.channel.fail.Store(true)
	err := f.client.Disconnect()

	assert.True(t, zcerrors.IsPeerCrashed(err))
	assert.Equal(t, StateDisconnected, f.client.GetState())
}

func TestClient_DisconnectInvalidatesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.send(t, 1, "held")

	token, err := f.client.ReceiveSlot()
	require.NoError(t, err)
	require.NotNil(t, token)

	require.NoError(t, f.client.Disconnect())

	_, err = f.client.AccessSlotContent(token)
	assert.True(t, zcerrors.IsUnexpectedState(err))
	assert.True(t, zcerrors.IsUnexpectedState(f.client.ReleaseSlot(token)))

	// Every client mapping is gone once the server drops its own.
	f.closeServerMemory()
	assert.Equal(t, 0, f.provider.Len())
}

func TestClient_TransitionCallbackMayReenter(t *testing.T) {
	f := newFixture(t)
	var seen []ClientState
	require.NoError(t, f.client.Connect(func(state ClientState, err error) {
		seen = append(seen, state)
		if state == StateDisconnectedRemote {
			require.NoError(t, f.client.Disconnect())
		}
	}))

	f.client.OnConnectionRequest(f.request)
	ack := f.expectMessage(t, sidechannel.KindAckConnectionRequest)
	var err error
	f.clientQueueMem, err = f.provider.MapReadWritable(ack.QueueHandle)
	require.NoError(t, err)
	_, err = slotqueue.Initialize(f.clientQueueMem.WritableBytes(), ack.QueueConfig.Capacity)
	require.NoError(t, err)
	f.client.OnAckQueueInitialization()
	f.client.OnShutdown()

	assert.Equal(t, []ClientState{StateConnected, StateDisconnectedRemote, StateDisconnected}, seen)
	assert.Equal(t, StateDisconnected, f.client.GetState())
}

func TestClient_ConcurrentQueries(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = f.client.GetState()
				_ = f.client.IsInUse()
				_, _ = f.client.ReceiveSlot()
			}
		}()
	}
	for i := range uint32(testSlots) {
		f.send(t, i, "p")
	}
	wg.Wait()
	assert.NotEqual(t, StateCorrupted, f.client.GetState())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Provider: memory.NewHeapProvider()})
	assert.Error(t, err)

	a, _ := sidechannel.NewPipe(0)
	_, err = NewClient(Config{Channel: a})
	assert.Error(t, err)

	c, err := NewClient(Config{Channel: a, Provider: memory.NewHeapProvider()})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, StateConnecting, c.GetState())
	assert.False(t, c.IsInUse())
}

func TestClientState_String(t *testing.T) {
	tests := []struct {
		state ClientState
		want  string
	}{
		{StateConnecting, "Connecting"},
		{StateConnected, "Connected"},
		{StateDisconnectedRemote, "DisconnectedRemote"},
		{StateCorrupted, "Corrupted"},
		{StateDisconnected, "Disconnected"},
		{ClientState(9), "ClientState(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

// ============================================================================
// Transition reporting
// ============================================================================

// blockingMetrics holds the first RecordTransition call until release is
// closed.
type blockingMetrics struct {
	metrics.Nop
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMetrics) RecordTransition(string, string, string) {
	if m.calls.Add(1) == 1 {
		close(m.entered)
		<-m.release
	}
}

func TestClient_TransitionsReportedInCommitOrder(t *testing.T) {
	f := newFixture(t)
	f.arm(t)
	m := &blockingMetrics{entered: make(chan struct{}), release: make(chan struct{})}
	f.client.metrics = m

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.client.OnTermination()
	}()

	select {
	case <-m.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("termination was not reported")
	}

	// The Corrupted report is still in flight; Disconnect commits behind it.
	assert.Error(t, f.client.Disconnect())
	assert.Equal(t, StateDisconnected, f.client.GetState())
	assert.Equal(t, 0, f.transitions.count())
	assert.True(t, f.client.IsInUse())

	close(m.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reports were not delivered")
	}

	f.transitions.mu.Lock()
	states := append([]ClientState(nil), f.transitions.states...)
	f.transitions.mu.Unlock()
	assert.Equal(t, []ClientState{StateCorrupted, StateDisconnected}, states)

	last, _ := f.transitions.last()
	assert.Equal(t, f.client.GetState(), last)
	assert.False(t, f.client.IsInUse())
}

// captureLogs sends JSON logs at DEBUG to a buffer until the test ends.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := logger.GetLevel()
	var buf bytes.Buffer
	require.NoError(t, logger.InitWithWriter(&buf, "debug", "json"))
	t.Cleanup(func() {
		_ = logger.InitWithWriter(os.Stdout, prev, "text")
	})
	return &buf
}

// transitionLevels maps the target state of every logged transition to the
// level it was logged at.
func transitionLevels(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	levels := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "Client state transition" {
			continue
		}
		target, _ := entry[logger.KeyTargetState].(string)
		level, _ := entry["level"].(string)
		levels[target] = level
	}
	return levels
}

func TestClient_TransitionLogLevels(t *testing.T) {
	t.Run("remote shutdown", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t)
		buf := captureLogs(t)

		f.client.OnShutdown()
		require.Equal(t, StateDisconnectedRemote, f.client.GetState())
		require.NoError(t, f.client.Disconnect())

		levels := transitionLevels(t, buf)
		assert.Equal(t, "WARN", levels[StateDisconnectedRemote.String()])
		assert.Equal(t, "INFO", levels[StateDisconnected.String()])
		f.closeServerMemory()
	})

	t.Run("crash", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t)
		buf := captureLogs(t)

		f.client.OnTermination()
		require.Equal(t, StateCorrupted, f.client.GetState())

		levels := transitionLevels(t, buf)
		assert.Equal(t, "ERROR", levels[StateCorrupted.String()])
		_ = f.client.Disconnect()
		f.closeServerMemory()
	})
}
