//go:build unix

package sidechannel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	zcerrors "github.com/marmos91/zerocopy/pkg/zerocopy/errors"
	"golang.org/x/sys/unix"
)

const (
	// maxMessageSize bounds an encoded message.
	maxMessageSize = 512

	// maxDescriptors bounds the descriptors attached to one message.
	maxDescriptors = 4

	socketNetwork = "unixpacket"
)

// Conn is a side channel over a SOCK_SEQPACKET Unix socket. Memory handles
// travel as SCM_RIGHTS ancillary data; received descriptors are owned by the
// connection and closed once the receiver callback returns.
type Conn struct {
	conn    *net.UnixConn
	writeMu sync.Mutex
	closed  atomic.Bool
	started atomic.Bool
}

// Dial connects to a listening side-channel socket.
func Dial(path string) (*Conn, error) {
	c, err := net.DialUnix(socketNetwork, nil, &net.UnixAddr{Name: path, Net: socketNetwork})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Conn{conn: c}, nil
}

// Send implements Channel.
func (c *Conn) Send(msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}

	data, fds, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if len(fds) > maxDescriptors {
		return fmt.Errorf("%s carries %d descriptors (max %d)", msg.Kind, len(fds), maxDescriptors)
	}

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, _, err := c.conn.WriteMsgUnix(data, oob, nil); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

// Start implements Channel.
func (c *Conn) Start(r Receiver) {
	if !c.started.CompareAndSwap(false, true) {
		panic("sidechannel: socket reactor already started")
	}
	go c.reactor(r)
}

func (c *Conn) reactor(r Receiver) {
	buf := make([]byte, maxMessageSize)
	oob := make([]byte, unix.CmsgSpace(maxDescriptors*4))

	for {
		n, oobn, flags, _, err := c.conn.ReadMsgUnix(buf, oob)
		if c.closed.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET) {
				r.OnTermination()
				return
			}
			r.OnTransportError(zcerrors.NewPeerCrashedError("side channel read", err))
			return
		}
		if n == 0 {
			r.OnTermination()
			return
		}

		fds, err := parseRights(oob[:oobn])
		if err != nil {
			r.OnTransportError(zcerrors.Wrap(zcerrors.ErrProtocol, "ancillary data", err))
			continue
		}
		if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
			closeAll(fds)
			r.OnTransportError(zcerrors.NewProtocolError("truncated side-channel message"))
			continue
		}

		msg, err := DecodeMessage(buf[:n], fds)
		if err != nil {
			closeAll(fds)
			r.OnTransportError(zcerrors.Wrap(zcerrors.ErrProtocol, "decode", err))
			continue
		}

		r.OnMessage(msg)
		closeAll(fds)
	}
}

// Close implements Channel.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}

	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// Listener accepts side-channel connections on a Unix socket path.
type Listener struct {
	l    *net.UnixListener
	path string
}

// Listen creates a listening socket at path, replacing a stale socket file.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}

	l, err := net.ListenUnix(socketNetwork, &net.UnixAddr{Name: path, Net: socketNetwork})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Listener{l: l, path: path}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Close stops listening and removes the socket file.
func (l *Listener) Close() error {
	return l.l.Close()
}

// Ensure Conn implements Channel.
var _ Channel = (*Conn)(nil)
