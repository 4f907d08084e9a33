package sidechannel

import (
	"sync"
	"sync/atomic"
)

// DefaultPipeBuffer is the number of messages a pipe end buffers.
const DefaultPipeBuffer = 64

// PipeEnd is one end of an in-process side channel created by NewPipe.
//
// Messages are delivered in order. Closing an end delivers a termination to
// the peer after every message sent before the close.
type PipeEnd struct {
	peer    *PipeEnd
	inbox   chan Message
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewPipe creates a connected pair of pipe ends.
func NewPipe(buffer int) (*PipeEnd, *PipeEnd) {
	if buffer <= 0 {
		buffer = DefaultPipeBuffer
	}
	a := &PipeEnd{inbox: make(chan Message, buffer), done: make(chan struct{})}
	b := &PipeEnd{inbox: make(chan Message, buffer), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Send implements Channel.
func (p *PipeEnd) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	default:
	}

	select {
	case p.peer.inbox <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	}
}

// Start implements Channel.
func (p *PipeEnd) Start(r Receiver) {
	if !p.started.CompareAndSwap(false, true) {
		panic("sidechannel: pipe reactor already started")
	}
	go p.reactor(r)
}

func (p *PipeEnd) reactor(r Receiver) {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.inbox:
			r.OnMessage(msg)
		case <-p.peer.done:
			p.drain(r)
			select {
			case <-p.done:
			default:
				r.OnTermination()
			}
			return
		}
	}
}

func (p *PipeEnd) drain(r Receiver) {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.inbox:
			r.OnMessage(msg)
		default:
			return
		}
	}
}

// Close implements Channel.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Ensure PipeEnd implements Channel.
var _ Channel = (*PipeEnd)(nil)
