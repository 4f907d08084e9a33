package logic

import (
	"fmt"
	"sync/atomic"
)

// SlotToken is the capability for one received, not yet released slot.
//
// Tokens are handed out by pointer and must not be copied. A token is consumed
// by ReleaseSlot; every later use is rejected. The generation distinguishes
// successive receptions of the same slot index.
type SlotToken struct {
	index      uint32
	generation uint64
	owner      *Client
	consumed   atomic.Bool
}

// Index returns the slot index the token refers to.
func (t *SlotToken) Index() uint32 {
	return t.index
}

// Generation returns the reception generation of the token.
func (t *SlotToken) Generation() uint64 {
	return t.generation
}

// Consumed reports whether the token was released.
func (t *SlotToken) Consumed() bool {
	return t.consumed.Load()
}

// String implements fmt.Stringer.
func (t *SlotToken) String() string {
	if t == nil {
		return "token(nil)"
	}
	return fmt.Sprintf("token(slot=%d gen=%d consumed=%t)", t.index, t.generation, t.Consumed())
}
