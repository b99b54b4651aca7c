// Package signaling carries the SDP/ICE exchange over WebSocket so senders can
// reach a receiver through a WebRTC DataChannel. Callers only see
// transport.Conn and transport.Listener.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

// Path is the HTTP path the signaling server upgrades on.
const Path = "/ws"

const negotiateTimeout = 30 * time.Second

// negotiate runs the SDP/ICE exchange for one peer over wsConn and blocks
// until the DataChannel opens. The offering side sends the offer first; the
// other side answers from its watch loop.
func negotiate(ctx context.Context, wsConn *websocket.Conn, peer *transport.Peer, offer bool) error {
	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best effort: a lost candidate only narrows the ICE search.
			s.sendCandidate(string(data))
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when the caller closes wsConn
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-peer.Ready():
		util.LogDebug("WebRTC DataChannel established, closing WS")
		return nil

	case err := <-errCh:
		select {
		case <-peer.Ready():
			return nil
		default:
			return fmt.Errorf("signaling failed: %w", err)
		}

	case <-peer.Done():
		return transport.ErrPeerClosed

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dial connects to a receiver's signaling server at wsURL, negotiates a
// DataChannel and returns it as a Conn.
func Dial(ctx context.Context, wsURL string) (transport.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL %q: %w", wsURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, negotiateTimeout)
	defer cancel()

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	peer, err := transport.NewPeer()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	if err := negotiate(ctx, wsConn, peer, false); err != nil {
		peer.Close()
		return nil, err
	}

	conn, err := peer.Conn(util.SessionID(wsConn.LocalAddr().String(), u.Host), u.Host)
	if err != nil {
		peer.Close()
		return nil, err
	}
	return conn, nil
}
