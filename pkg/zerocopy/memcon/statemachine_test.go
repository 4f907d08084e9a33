package memcon

import (
	"testing"

	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probeState counts how often it was exited.
type probeState struct {
	baseState
	exits *int
}

func (p *probeState) exit() { *p.exits++ }

func newProbeMachine() (*stateMachine, map[ClientState]*int, *[]ClientState) {
	exits := map[ClientState]*int{}
	var built []ClientState

	m := &stateMachine{}
	m.construct = func(target ClientState, _ error) state {
		n := 0
		exits[target] = &n
		built = append(built, target)
		return &probeState{baseState: baseState{id: target}, exits: &n}
	}

	n := 0
	exits[StateConnecting] = &n
	m.emplace(&probeState{baseState: baseState{id: StateConnecting}, exits: &n})
	return m, exits, &built
}

func TestStateMachine_HandleWithoutRequest(t *testing.T) {
	m, exits, built := newProbeMachine()

	assert.False(t, m.HandleTransitionToRequest())
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, 0, *exits[StateConnecting])
	assert.Empty(t, *built)
	assert.Nil(t, m.takeCommitted())
}

func TestStateMachine_CommitsOneTransition(t *testing.T) {
	m, exits, built := newProbeMachine()
	cause := zcerrors.NewPeerCrashedError("gone", nil)

	m.TransitionToRequest(StateCorrupted, cause)
	assert.True(t, m.HasPendingRequest())
	assert.Equal(t, StateConnecting, m.State(), "nothing changes before handling")

	require.True(t, m.HandleTransitionToRequest())
	assert.False(t, m.HasPendingRequest())
	assert.Equal(t, StateCorrupted, m.State())
	assert.Equal(t, StateCorrupted, m.current.clientState())
	assert.Equal(t, 1, *exits[StateConnecting], "old state exited exactly once")
	assert.Equal(t, []ClientState{StateCorrupted}, *built)

	tr := m.takeCommitted()
	require.NotNil(t, tr)
	assert.Equal(t, StateConnecting, tr.from)
	assert.Equal(t, StateCorrupted, tr.to)
	assert.Same(t, cause, tr.cause)
	assert.Nil(t, m.takeCommitted())

	assert.False(t, m.HandleTransitionToRequest(), "request is consumed once")
}

func TestStateMachine_SequenceKeepsSingleLiveState(t *testing.T) {
	m, exits, _ := newProbeMachine()

	for _, target := range []ClientState{StateConnected, StateDisconnectedRemote, StateCorrupted, StateDisconnected} {
		m.TransitionToRequest(target, nil)
		require.True(t, m.HandleTransitionToRequest())
		assert.Equal(t, target, m.State())
		assert.Equal(t, 0, *exits[target], "live state has not exited")
	}
	for _, s := range []ClientState{StateConnecting, StateConnected, StateDisconnectedRemote, StateCorrupted} {
		assert.Equal(t, 1, *exits[s], s.String())
	}
}

func TestStateMachine_DoubleRequestPanics(t *testing.T) {
	m, _, _ := newProbeMachine()
	m.TransitionToRequest(StateConnected, nil)

	assert.Panics(t, func() {
		m.TransitionToRequest(StateCorrupted, nil)
	})
	assert.True(t, m.HandleTransitionToRequest())
	assert.Equal(t, StateConnected, m.State(), "first request wins")
}

func TestStateMachine_EmplaceTwicePanics(t *testing.T) {
	m, _, _ := newProbeMachine()
	assert.Panics(t, func() {
		m.emplace(&probeState{baseState: baseState{id: StateConnected}})
	})
}
