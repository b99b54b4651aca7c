package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/ringxfer/internal/util"
)

const (
	maxMessageSize = 16 * 1024  // bytes per DataChannel message
	readBufferSize = 64 * 1024  // must hold the largest message a peer sends
	highWaterMark  = 256 * 1024 // pause writing when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume writing when bufferedAmount drops below this
)

// ErrPeerClosed is returned by a Peer that closed before its DataChannel opened.
var ErrPeerClosed = errors.New("webrtc peer closed")

// Peer wraps one PeerConnection and its DataChannel. The signaling layer
// drives the SDP/ICE methods; once Ready fires, Conn exposes the channel as a
// byte stream.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	ready   chan struct{}
	raw     io.ReadWriteCloser
	openErr error

	closed    chan struct{}
	closeOnce sync.Once
}

// NewPeer creates a PeerConnection with a pre-negotiated DataChannel.
func NewPeer() (*Peer, error) {
	pc, err := newPeerConnection(newAPI())
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	p := &Peer{
		pc:     pc,
		dc:     dc,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			p.raw, p.openErr = dc.Detach()
			close(p.ready)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.Close()
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and applies it as the local description.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return offer, err
	}
	return offer, p.pc.SetLocalDescription(offer)
}

// CreateAnswer generates an SDP answer and applies it as the local description.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return answer, err
	}
	return answer, p.pc.SetLocalDescription(answer)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed once the DataChannel is open.
func (p *Peer) Ready() <-chan struct{} {
	return p.ready
}

// Done returns a channel that is closed when the peer shuts down.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		var rawErr error
		select {
		case <-p.ready:
			if p.raw != nil {
				rawErr = p.raw.Close()
			}
		default:
		}
		err = errors.Join(rawErr, p.dc.Close(), p.pc.Close())
	})
	return err
}

// Conn returns the open DataChannel as a byte stream. It must only be called
// after Ready has fired.
func (p *Peer) Conn(id uint32, peer string) (Conn, error) {
	select {
	case <-p.ready:
	case <-p.closed:
		return nil, ErrPeerClosed
	}
	if p.openErr != nil {
		return nil, fmt.Errorf("failed to detach DataChannel: %w", p.openErr)
	}

	c := &dcConn{
		peer:        p,
		raw:         p.raw,
		id:          id,
		remote:      peer,
		rbuf:        make([]byte, readBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	p.dc.SetBufferedAmountLowThreshold(lowWaterMark)
	p.dc.OnBufferedAmountLow(func() {
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})
	return c, nil
}

// ---------------------------------------------------------------------------
// Byte stream over a message channel
// ---------------------------------------------------------------------------

// dcConn turns the message-oriented DataChannel into a byte stream: writes are
// split into messages of at most maxMessageSize, reads hand out each message
// across as many calls as the caller's buffer needs.
type dcConn struct {
	peer   *Peer
	raw    io.ReadWriteCloser
	id     uint32
	remote string

	rmu     sync.Mutex
	rbuf    []byte
	pending []byte // unread tail of the last message, aliases rbuf

	wmu         sync.Mutex
	drainSignal chan struct{}
}

func (c *dcConn) ID() uint32   { return c.id }
func (c *dcConn) Peer() string { return c.remote }

func (c *dcConn) Read(b []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if len(c.pending) == 0 {
		n, err := c.raw.Read(c.rbuf)
		if err != nil {
			return 0, err
		}
		c.pending = c.rbuf[:n]
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends b as one or more messages. When the DataChannel's send queue
// exceeds highWaterMark it blocks until the queue drains below lowWaterMark.
func (c *dcConn) Write(b []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	written := 0
	for len(b) > 0 {
		if c.peer.dc.BufferedAmount() > highWaterMark {
			select {
			case <-c.drainSignal:
			case <-c.peer.closed:
				return written, io.ErrClosedPipe
			}
		}

		chunk := b
		if len(chunk) > maxMessageSize {
			chunk = chunk[:maxMessageSize]
		}
		n, err := c.raw.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		b = b[len(chunk):]
	}
	return written, nil
}

func (c *dcConn) Close() error {
	return c.peer.Close()
}
