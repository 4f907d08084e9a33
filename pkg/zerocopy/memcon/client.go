// Package memcon implements the client side of a zero-copy connection: a
// protocol state machine that receives payload slots from a single producer
// through shared memory, with control traffic on a side channel.
//
// A Client starts in StateConnecting. Connect arms it and starts the side
// channel; the server's ConnectionRequest and AckQueueInitialization complete
// the handshake and move it to StateConnected, where ReceiveSlot,
// AccessSlotContent and ReleaseSlot exchange slots without copying payload
// bytes. A clean server shutdown leads to StateDisconnectedRemote, a crash or
// protocol violation to StateCorrupted. Disconnect always ends in
// StateDisconnected.
//
// Every public operation and every side-channel event is dispatched to the
// current state under one mutex, and any transition the state requests is
// committed before the call returns. User callbacks run after the mutex is
// released and may call back into the Client.
package memcon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/memory"
	"github.com/marmos91/zerocopy/pkg/metrics"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/logic"
	"github.com/marmos91/zerocopy/pkg/zerocopy/sidechannel"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// OnStateTransitionCallback is invoked once per committed transition with the
// new state and the error that caused it, nil for clean transitions.
// Invocations never overlap and follow commit order. A callback may run on
// the goroutine of a concurrent caller, after that caller's own operation
// has returned.
type OnStateTransitionCallback func(state ClientState, err error)

// OnNotificationCallback is invoked once per slot notification while
// listening.
type OnNotificationCallback func()

// Config configures a Client.
type Config struct {
	// Channel is the side channel to the server. Required. The Client takes
	// ownership and closes it on Disconnect.
	Channel sidechannel.Channel

	// Provider maps the memory the server hands over and allocates the
	// client queue. Required.
	Provider memory.Provider

	// Instance names the zero-copy instance, for logs, traces and metrics.
	Instance string

	// ClientID identifies the client. Defaults to a random UUID.
	ClientID string

	// Integrity is reported in the slot memory descriptor.
	Integrity memory.IntegrityLevel

	// Metrics is optional.
	Metrics metrics.ClientMetrics
}

// Client is the consumer side of a zero-copy connection.
//
// Thread safety: all methods are safe for concurrent use. GetState, IsInUse
// and IsOnNotificationCallbackInUse are lock-free snapshots and may be stale
// by the time they return.
type Client struct {
	mu sync.Mutex
	sm stateMachine

	channel   sidechannel.Channel
	provider  memory.Provider
	instance  string
	id        string
	integrity memory.IntegrityLevel
	metrics   metrics.ClientMetrics

	// Guarded by mu.
	res            *connectionResources
	listening      bool
	onNotification OnNotificationCallback
	onTransition   OnStateTransitionCallback
	reports        []report
	delivering     bool

	inUse              atomic.Int32
	notificationsInUse atomic.Int32
}

// NewClient creates a Client in StateConnecting.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Channel == nil {
		return nil, errors.New("memcon: side channel is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("memcon: memory provider is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	c := &Client{
		channel:   cfg.Channel,
		provider:  cfg.Provider,
		instance:  cfg.Instance,
		id:        cfg.ClientID,
		integrity: cfg.Integrity,
		metrics:   cfg.Metrics,
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}

	c.sm.construct = c.transitionToConstruction
	c.sm.emplace(newConnectingState(c))
	return c, nil
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Instance returns the name of the zero-copy instance.
func (c *Client) Instance() string {
	return c.instance
}

// transitionToConstruction builds the state for a committed transition.
func (c *Client) transitionToConstruction(target ClientState, cause error) state {
	switch target {
	case StateConnecting:
		return newConnectingState(c)
	case StateConnected:
		return newConnectedState(c)
	case StateDisconnectedRemote:
		return newDisconnectedRemoteState(c)
	case StateCorrupted:
		return newCorruptedState(c, cause)
	case StateDisconnected:
		return newDisconnectedState(c)
	default:
		panic(fmt.Sprintf("memcon: no construction for state %s", target))
	}
}

// logAndTransitionToRequest logs the requested transition at a severity
// matching its cause and files it with the state machine.
func (c *Client) logAndTransitionToRequest(target ClientState, cause error) {
	level := logger.LevelInfo
	args := []any{
		logger.Instance(c.instance),
		logger.ClientID(c.id),
		logger.State(c.sm.current.clientState()),
		logger.TargetState(target),
	}

	if cause != nil {
		level = logger.LevelError
		if code, ok := zcerrors.CodeOf(cause); ok {
			args = append(args, logger.ErrorCode(code))
			if code == zcerrors.ErrPeerDisconnected {
				level = logger.LevelWarn
			}
		}
		args = append(args, logger.Err(cause))
	}

	logger.Log(level, "Client state transition", args...)
	c.sm.TransitionToRequest(target, cause)
}

// teardown releases everything the connection owns. Called on entering
// StateDisconnected with mu held.
func (c *Client) teardown() {
	if err := c.channel.Close(); err != nil {
		logger.Debug("Side channel close failed", logger.ClientID(c.id), logger.Err(err))
	}

	c.listening = false
	c.onNotification = nil

	if c.res == nil {
		return
	}
	outstanding, err := c.res.close()
	c.res = nil
	c.metrics.SetOutstandingSlots(0)

	if outstanding > 0 {
		logger.Warn("Disconnected with outstanding slot tokens; tokens invalidated",
			logger.ClientID(c.id), logger.Outstanding(outstanding))
	}
	if err != nil {
		logger.Warn("Failed to release connection memory", logger.ClientID(c.id), logger.Err(err))
	}
}

// mapHandshake maps the memory announced by a ConnectionRequest and
// allocates the client queue.
func (c *Client) mapHandshake(req sidechannel.ConnectionRequest) (*stagedHandshake, error) {
	h := &stagedHandshake{req: req}

	slotMemory, err := c.provider.MapReadable(req.SlotHandle)
	if err != nil {
		return nil, fmt.Errorf("slot memory: %w", err)
	}
	h.slotMemory = slotMemory

	serverQueueMem, err := c.provider.MapReadWritable(req.ServerQueueHandle)
	if err != nil {
		_ = h.release()
		return nil, fmt.Errorf("server queue memory: %w", err)
	}
	h.serverQueueMem = serverQueueMem

	clientQueueMem, err := c.provider.Allocate(memory.AllocateOptions{
		Size:         slotqueue.RequiredSize(req.SlotConfig.NumberSlots),
		Name:         "zerocopy-client-queue-" + c.id,
		Integrity:    c.integrity,
		Initializing: memory.InitZeroed,
	})
	if err != nil {
		_ = h.release()
		return nil, fmt.Errorf("client queue memory: %w", err)
	}
	h.clientQueueMem = clientQueueMem
	return h, nil
}

// ============================================================================
// Dispatch
// ============================================================================

// report is a committed transition awaiting delivery to the callback that
// was registered when it committed.
type report struct {
	t  *transition
	cb OnStateTransitionCallback
}

// dispatch runs fn against the current state, commits any requested
// transition and delivers pending reports after releasing the mutex.
func (c *Client) dispatch(fn func(s state) error) error {
	c.mu.Lock()
	err := fn(c.sm.current)
	c.sm.HandleTransitionToRequest()
	if t := c.sm.takeCommitted(); t != nil {
		c.inUse.Add(1)
		c.reports = append(c.reports, report{t: t, cb: c.onTransition})
	}
	c.deliverLocked()
	return err
}

// event dispatches a side-channel event. Events never fail; failures become
// transitions.
func (c *Client) event(fn func(s state)) {
	c.inUse.Add(1)
	defer c.inUse.Add(-1)

	_ = c.dispatch(func(s state) error {
		fn(s)
		return nil
	})
}

// deliverLocked reports queued transitions in commit order and releases mu.
// Only one goroutine delivers at a time; any other caller, including a
// callback re-entering the client, leaves its reports to the active
// deliverer.
func (c *Client) deliverLocked() {
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.reports) > 0 {
		r := c.reports[0]
		c.reports[0] = report{}
		c.reports = c.reports[1:]
		c.mu.Unlock()

		c.reportTransition(r.cb, r.t)
		c.inUse.Add(-1)

		c.mu.Lock()
	}
	c.reports = nil
	c.delivering = false
	c.mu.Unlock()
}

func (c *Client) reportTransition(cb OnStateTransitionCallback, t *transition) {
	code := ""
	if t.cause != nil {
		if ec, ok := zcerrors.CodeOf(t.cause); ok {
			code = ec.String()
		}
	}
	c.metrics.RecordTransition(t.from.String(), t.to.String(), code)

	if cb != nil {
		cb(t.to, t.cause)
	}
}

// ============================================================================
// User operations
// ============================================================================

// Connect arms the client to accept the server's connection request and
// starts the side channel. onTransition, if not nil, is invoked for every
// later transition. Valid once, in StateConnecting.
func (c *Client) Connect(onTransition OnStateTransitionCallback) error {
	ctx, span := telemetry.StartClientSpan(context.Background(), telemetry.SpanClientConnect, c.instance, c.id)
	defer span.End()

	err := c.dispatch(func(s state) error {
		if err := s.connect(); err != nil {
			return err
		}
		c.onTransition = onTransition
		c.channel.Start(sidechannel.ClientReceiver(c))
		return nil
	})
	c.traceResult(ctx, err)
	return err
}

// Disconnect tears the connection down. The client always ends in
// StateDisconnected; the error reports a crash or protocol violation that
// happened before or while disconnecting. All received slot tokens should be
// released first; outstanding tokens are invalidated.
func (c *Client) Disconnect() error {
	ctx, span := telemetry.StartClientSpan(context.Background(), telemetry.SpanClientDisconnect, c.instance, c.id,
		telemetry.State(c.GetState().String()))
	defer span.End()

	err := c.dispatch(func(s state) error { return s.disconnect() })
	c.traceResult(ctx, err)
	return err
}

// traceResult records err on the span in ctx, tagged with its error code,
// and marks the state the client ended in.
func (c *Client) traceResult(ctx context.Context, err error) {
	telemetry.AddEvent(ctx, "state", telemetry.TargetState(c.GetState().String()))
	if code, ok := zcerrors.CodeOf(err); ok {
		telemetry.SetAttributes(ctx, telemetry.ErrorCode(code.String()))
	}
	telemetry.RecordError(ctx, err)
}

// StartListening switches to notified reception: onNotification is invoked
// for every slot the server announces. Valid in StateConnected while not
// already listening.
func (c *Client) StartListening(onNotification OnNotificationCallback) error {
	if onNotification == nil {
		return zcerrors.New(zcerrors.ErrUnexpectedState, "StartListening requires a callback")
	}
	return c.dispatch(func(s state) error { return s.startListening(onNotification) })
}

// StopListening switches back to polling reception.
func (c *Client) StopListening() error {
	return c.dispatch(func(s state) error { return s.stopListening() })
}

// ReceiveSlot returns the next slot the server sent, or nil when none is
// available. Valid in StateConnected and StateDisconnectedRemote.
func (c *Client) ReceiveSlot() (*logic.SlotToken, error) {
	var token *logic.SlotToken
	err := c.dispatch(func(s state) error {
		var err error
		token, err = s.receiveSlot()
		return err
	})
	return token, err
}

// AccessSlotContent returns a read-only view of the slot content. The view
// stays valid until the token is released or the client disconnects; callers
// must not write to it.
func (c *Client) AccessSlotContent(token *logic.SlotToken) ([]byte, error) {
	var data []byte
	err := c.dispatch(func(s state) error {
		var err error
		data, err = s.accessSlotContent(token)
		return err
	})
	return data, err
}

// ReleaseSlot hands the slot back to the server and consumes the token.
func (c *Client) ReleaseSlot(token *logic.SlotToken) error {
	return c.dispatch(func(s state) error { return s.releaseSlot(token) })
}

// GetSlotMemoryResourceDescriptor describes the slot memory so it can be
// mapped read-only elsewhere. Valid in StateConnected,
// StateDisconnectedRemote and StateCorrupted. The caller owns the returned
// descriptor: it stays valid after Disconnect and must be released with
// Close.
func (c *Client) GetSlotMemoryResourceDescriptor() (memory.ReadableDescriptor, error) {
	var d memory.ReadableDescriptor
	err := c.dispatch(func(s state) error {
		var err error
		d, err = s.slotMemoryDescriptor()
		return err
	})
	return d, err
}

// GetState returns the current state.
func (c *Client) GetState() ClientState {
	return c.sm.State()
}

// IsInUse reports whether a side-channel event or a user callback is being
// processed. The Client may be dropped only after observing false with the
// side channel quiesced.
func (c *Client) IsInUse() bool {
	return c.inUse.Load() > 0
}

// IsOnNotificationCallbackInUse reports whether the notification callback is
// running.
func (c *Client) IsOnNotificationCallbackInUse() bool {
	return c.notificationsInUse.Load() > 0
}

// ============================================================================
// sidechannel.Handler
// ============================================================================

// OnConnectionRequest implements sidechannel.Handler.
func (c *Client) OnConnectionRequest(req sidechannel.ConnectionRequest) {
	_, span := telemetry.StartClientSpan(context.Background(), telemetry.SpanClientHandshake, c.instance, c.id,
		telemetry.SlotLayout(req.SlotConfig.NumberSlots, req.SlotConfig.SlotContentSize, req.ServerQueueConfig.Capacity)...)
	defer span.End()

	c.event(func(s state) { s.onConnectionRequest(req) })
}

// OnAckQueueInitialization implements sidechannel.Handler.
func (c *Client) OnAckQueueInitialization() {
	c.event(func(s state) { s.onAckQueueInitialization() })
}

// OnShutdown implements sidechannel.Handler.
func (c *Client) OnShutdown() {
	c.event(func(s state) { s.onShutdown() })
}

// OnTermination implements sidechannel.Handler.
func (c *Client) OnTermination() {
	c.event(func(s state) { s.onTermination() })
}

// OnError implements sidechannel.Handler.
func (c *Client) OnError(code zcerrors.ErrorCode) {
	c.event(func(s state) { s.onError(code) })
}

// OnNotification implements sidechannel.Handler. The callback runs only in
// StateConnected while listening.
func (c *Client) OnNotification() {
	c.inUse.Add(1)
	defer c.inUse.Add(-1)

	c.mu.Lock()
	var cb OnNotificationCallback
	if c.sm.current.notify() {
		cb = c.onNotification
	}
	if cb != nil {
		c.notificationsInUse.Add(1)
	}
	c.mu.Unlock()

	if cb == nil {
		return
	}
	defer c.notificationsInUse.Add(-1)
	c.metrics.RecordNotification()
	cb()
}

var _ sidechannel.Handler = (*Client)(nil)
