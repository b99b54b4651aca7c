// Package transport provides the byte streams a sender and a receiver talk
// over: plain TCP, or a WebRTC DataChannel signaled over WebSocket.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/1ureka/ringxfer/internal/util"
)

// Conn is a reliable, ordered, bidirectional byte stream.
type Conn interface {
	io.ReadWriteCloser

	// ID identifies the connection in logs.
	ID() uint32

	// Peer describes the remote end.
	Peer() string
}

// Listener yields incoming Conns.
type Listener interface {
	// Accept blocks until a new connection arrives, the listener is closed,
	// or ctx is cancelled.
	Accept(ctx context.Context) (Conn, error)

	// Addr describes where the listener is reachable.
	Addr() string

	Close() error
}

// ---------------------------------------------------------------------------
// TCP
// ---------------------------------------------------------------------------

type tcpConn struct {
	net.Conn
	id uint32
}

// WrapNetConn adapts a net.Conn. Its ID is derived from the 4-tuple.
func WrapNetConn(c net.Conn) Conn {
	return &tcpConn{
		Conn: c,
		id:   util.SessionID(c.LocalAddr().String(), c.RemoteAddr().String()),
	}
}

func (c *tcpConn) ID() uint32   { return c.id }
func (c *tcpConn) Peer() string { return c.RemoteAddr().String() }

// DialTCP connects to a receiver at addr.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return WrapNetConn(c), nil
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP starts a TCP listener on addr.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

// NewTCPListener wraps an existing net.Listener.
func NewTCPListener(ln net.Listener) Listener {
	return &tcpListener{ln: ln}
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	// Close the listener when ctx is done so Accept() returns an error.
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return WrapNetConn(c), nil
}

func (l *tcpListener) Addr() string { return l.ln.Addr().String() }
func (l *tcpListener) Close() error { return l.ln.Close() }
