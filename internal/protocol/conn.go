package protocol

import (
	"bufio"
	"errors"
	"net"
	"sync"
)

var (
	ErrUnknownKind = errors.New("unknown packet type")
	ErrMalformed   = errors.New("malformed packet")
)

// IsDecodeError reports whether err is a recoverable per-message decode
// failure rather than a transport error.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownKind)
}

// MessageConn is a bidirectional stream of discrete packets. WritePacket
// must be safe for concurrent use; reads are single-caller (one reader
// goroutine per connection).
type MessageConn interface {
	ReadPacket() (Packet, error)
	WritePacket(Packet) error
	Close() error
	RemoteAddr() string
}

type netConn struct {
	c net.Conn
	r *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

// NewConn wraps a TCP connection in newline-delimited packet framing.
func NewConn(c net.Conn) MessageConn {
	return &netConn{
		c: c,
		r: bufio.NewReader(c),
		w: bufio.NewWriter(c),
	}
}

func (n *netConn) ReadPacket() (Packet, error) {
	line, err := n.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return Unmarshal(line)
}

func (n *netConn) WritePacket(p Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	n.wmu.Lock()
	defer n.wmu.Unlock()
	if _, err := n.w.Write(data); err != nil {
		return err
	}
	if err := n.w.WriteByte('\n'); err != nil {
		return err
	}
	return n.w.Flush()
}

func (n *netConn) Close() error { return n.c.Close() }

func (n *netConn) RemoteAddr() string { return n.c.RemoteAddr().String() }
