package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Listener is the receiver-side signaling server. Every WebSocket client that
// completes negotiation becomes one Conn returned by Accept.
type Listener struct {
	listener net.Listener
	srv      *http.Server
	connCh   chan transport.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Listen starts the signaling server on addr (":0" picks a random port).
func Listen(addr string) (*Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		listener: listener,
		connCh:   make(chan transport.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleWS)
	l.srv = &http.Server{Handler: mux}

	go func() {
		_ = l.srv.Serve(listener)
	}()

	return l, nil
}

// Port returns the port the server is listening on.
func (l *Listener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

func (l *Listener) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer wsConn.Close()

	util.LogDebug("signaling client connected: %s", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(l.ctx, negotiateTimeout)
	defer cancel()

	peer, err := transport.NewPeer()
	if err != nil {
		util.LogError("failed to create peer for %s: %v", r.RemoteAddr, err)
		return
	}

	if err := negotiate(ctx, wsConn, peer, true); err != nil {
		util.LogWarning("negotiation with %s failed: %v", r.RemoteAddr, err)
		peer.Close()
		return
	}

	conn, err := peer.Conn(util.SessionID(l.Addr(), r.RemoteAddr), r.RemoteAddr)
	if err != nil {
		util.LogWarning("DataChannel with %s unusable: %v", r.RemoteAddr, err)
		peer.Close()
		return
	}

	select {
	case l.connCh <- conn:
	case <-l.ctx.Done():
		conn.Close()
	}
}

// Accept blocks until a sender's DataChannel is open, the listener is closed,
// or ctx is cancelled.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the server and abandons negotiations still in progress.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}
