package memcon

import (
	"fmt"
	"sync/atomic"
)

// transitionRequest is a transition filed by a state method and not yet
// committed.
type transitionRequest struct {
	target ClientState
	cause  error
}

// transition is a committed transition, reported to the user once the client
// mutex is released.
type transition struct {
	from  ClientState
	to    ClientState
	cause error
}

// stateMachine owns the single live state of a client and arbitrates
// transitions between states.
//
// A state method files at most one request with TransitionToRequest; the
// caller then commits it with HandleTransitionToRequest before entering any
// state method again. The old state's exit runs before the new state is
// constructed, so two states never hold the same resources.
//
// Not safe for concurrent use; the owning Client serializes access.
type stateMachine struct {
	current   state
	pending   *transitionRequest
	committed *transition

	// snapshot mirrors current.clientState() for lock-free readers.
	snapshot atomic.Int32

	// construct builds the state for a committed transition target.
	construct func(target ClientState, cause error) state
}

// emplace installs the initial state.
func (m *stateMachine) emplace(s state) {
	if m.current != nil {
		panic("memcon: initial state already emplaced")
	}
	m.current = s
	m.snapshot.Store(int32(s.clientState()))
}

// State returns the committed state. Safe for concurrent use.
func (m *stateMachine) State() ClientState {
	return ClientState(m.snapshot.Load())
}

// TransitionToRequest files a transition to target. Filing a second request
// before the first is handled is a programming error and panics.
func (m *stateMachine) TransitionToRequest(target ClientState, cause error) {
	if m.pending != nil {
		panic(fmt.Sprintf("memcon: transition to %s requested while transition to %s is pending",
			target, m.pending.target))
	}
	m.pending = &transitionRequest{target: target, cause: cause}
}

// HasPendingRequest reports whether a transition request awaits handling.
func (m *stateMachine) HasPendingRequest() bool {
	return m.pending != nil
}

// HandleTransitionToRequest commits the pending request, if any: the current
// state exits, the target state is constructed and the request is cleared.
// Returns false when nothing was pending.
func (m *stateMachine) HandleTransitionToRequest() bool {
	req := m.pending
	if req == nil {
		return false
	}

	from := m.current.clientState()
	m.current.exit()
	m.current = nil

	next := m.construct(req.target, req.cause)
	m.current = next
	m.pending = nil
	m.snapshot.Store(int32(next.clientState()))
	m.committed = &transition{from: from, to: next.clientState(), cause: req.cause}
	return true
}

// takeCommitted returns and clears the last committed transition.
func (m *stateMachine) takeCommitted() *transition {
	t := m.committed
	m.committed = nil
	return t
}
