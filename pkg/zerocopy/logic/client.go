// Package logic tracks slot ownership between a zero-copy server and its
// clients on top of the two slot queues of a connection.
//
// The server queue carries indices of slots the server made available to the
// client. The client queue carries indices the client hands back for
// reclamation. Client is the receiving side; Server is its counterpart.
package logic

import (
	"fmt"
	"sync"

	"github.com/marmos91/zerocopy/pkg/memory"
	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/marmos91/zerocopy/pkg/zerocopy/slotqueue"
)

// MaxSlots is the largest number of slots a slot memory may hold.
const MaxSlots = 1 << 16

// LogicClient tracks which slots are held by a client and validates token
// operations against that bookkeeping.
type LogicClient interface {
	// ReceiveSlot returns a token for the next slot the server made
	// available, or nil when none is pending. Receiving a slot that is
	// already held is a protocol error.
	ReceiveSlot() (*SlotToken, error)

	// AccessSlotContent returns a read-only view of the slot content.
	AccessSlotContent(token *SlotToken) ([]byte, error)

	// ReleaseSlot hands the slot back to the server through the client queue
	// and consumes the token.
	ReleaseSlot(token *SlotToken) error

	// ReleaseSlotLocal consumes the token without touching the client queue.
	ReleaseSlotLocal(token *SlotToken) error

	// Outstanding returns the number of held slots.
	Outstanding() int

	// Invalidate rejects every outstanding token from now on and returns how
	// many there were.
	Invalidate() int
}

// ClientConfig wires a Client to its memory.
type ClientConfig struct {
	Slots       memory.SlotMemoryConfig
	SlotMemory  []byte
	ServerQueue *slotqueue.Queue
	ClientQueue *slotqueue.Queue
}

// Client is the LogicClient implementation over two slot queues.
type Client struct {
	mu sync.Mutex

	slots       memory.SlotMemoryConfig
	slotMemory  []byte
	serverQueue *slotqueue.Queue
	clientQueue *slotqueue.Queue

	// held maps slot index to the generation of its outstanding token.
	held           map[uint32]uint64
	nextGeneration uint64
	invalidated    bool
}

// NewClient validates the configuration and creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Slots.Validate(); err != nil {
		return nil, err
	}
	if cfg.Slots.NumberSlots > MaxSlots {
		return nil, fmt.Errorf("logic: %d slots exceeds maximum %d", cfg.Slots.NumberSlots, MaxSlots)
	}
	if uint64(len(cfg.SlotMemory)) < cfg.Slots.RequiredSize() {
		return nil, fmt.Errorf("logic: slot memory of %d bytes too small (need %d)",
			len(cfg.SlotMemory), cfg.Slots.RequiredSize())
	}
	if cfg.ServerQueue == nil || cfg.ClientQueue == nil {
		return nil, fmt.Errorf("logic: both slot queues are required")
	}
	if cfg.ClientQueue.Capacity() < cfg.Slots.NumberSlots {
		return nil, fmt.Errorf("logic: client queue capacity %d below slot count %d",
			cfg.ClientQueue.Capacity(), cfg.Slots.NumberSlots)
	}

	return &Client{
		slots:       cfg.Slots,
		slotMemory:  cfg.SlotMemory,
		serverQueue: cfg.ServerQueue,
		clientQueue: cfg.ClientQueue,
		held:        make(map[uint32]uint64),
	}, nil
}

// ReceiveSlot implements LogicClient.
func (c *Client) ReceiveSlot() (*SlotToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invalidated {
		return nil, zcerrors.NewUnexpectedStateError("ReceiveSlot", "invalidated")
	}

	index, ok, err := c.serverQueue.Pop()
	if err != nil {
		return nil, zcerrors.Wrap(zcerrors.ErrProtocol, "server queue", err)
	}
	if !ok {
		return nil, nil
	}

	if index >= c.slots.NumberSlots {
		return nil, zcerrors.Newf(zcerrors.ErrProtocol, "slot index %d out of range [0,%d)", index, c.slots.NumberSlots)
	}
	if _, dup := c.held[index]; dup {
		return nil, zcerrors.Newf(zcerrors.ErrProtocol, "slot %d received while still held", index)
	}

	c.nextGeneration++
	c.held[index] = c.nextGeneration

	return &SlotToken{index: index, generation: c.nextGeneration, owner: c}, nil
}

// AccessSlotContent implements LogicClient.
func (c *Client) AccessSlotContent(token *SlotToken) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTokenLocked("AccessSlotContent", token); err != nil {
		return nil, err
	}

	off := c.slots.SlotOffset(token.index)
	end := off + c.slots.SlotContentSize
	return c.slotMemory[off:end:end], nil
}

// ReleaseSlot implements LogicClient.
func (c *Client) ReleaseSlot(token *SlotToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTokenLocked("ReleaseSlot", token); err != nil {
		return err
	}

	pushed, err := c.clientQueue.Push(token.index)
	if err != nil {
		return zcerrors.Wrap(zcerrors.ErrProtocol, "client queue", err)
	}
	if !pushed {
		return zcerrors.Newf(zcerrors.ErrProtocol, "client queue full while releasing slot %d", token.index)
	}

	c.consumeLocked(token)
	return nil
}

// ReleaseSlotLocal implements LogicClient.
func (c *Client) ReleaseSlotLocal(token *SlotToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTokenLocked("ReleaseSlot", token); err != nil {
		return err
	}
	c.consumeLocked(token)
	return nil
}

// Outstanding implements LogicClient.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

// Invalidate implements LogicClient.
func (c *Client) Invalidate() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.held)
	c.invalidated = true
	c.held = make(map[uint32]uint64)
	c.slotMemory = nil
	return n
}

func (c *Client) checkTokenLocked(op string, token *SlotToken) error {
	switch {
	case token == nil:
		return zcerrors.Newf(zcerrors.ErrUnexpectedState, "%s: nil token", op)
	case token.owner != c:
		return zcerrors.Newf(zcerrors.ErrUnexpectedState, "%s: token belongs to another client", op)
	case token.Consumed():
		return zcerrors.Newf(zcerrors.ErrUnexpectedState, "%s: slot %d already released", op, token.index)
	case c.invalidated:
		return zcerrors.Newf(zcerrors.ErrUnexpectedState, "%s: token invalidated by disconnect", op)
	}

	gen, ok := c.held[token.index]
	if !ok || gen != token.generation {
		return zcerrors.Newf(zcerrors.ErrUnexpectedState, "%s: stale token for slot %d", op, token.index)
	}
	return nil
}

func (c *Client) consumeLocked(token *SlotToken) {
	token.consumed.Store(true)
	delete(c.held, token.index)
}

// Ensure Client implements LogicClient.
var _ LogicClient = (*Client)(nil)
