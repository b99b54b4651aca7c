// Package monitor publishes a receiver's live state over WebSocket: buffer
// occupancy, connected senders and traffic counters, pushed as JSON once per
// interval to every subscriber.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/ringxfer/internal/ringbuf"
	"github.com/1ureka/ringxfer/internal/session"
	"github.com/1ureka/ringxfer/internal/util"
)

// Path is the HTTP path the status feed upgrades on.
const Path = "/status"

// DefaultInterval is the push period used when none is given.
const DefaultInterval = time.Second

// Status is one frame of the feed.
type Status struct {
	Time      time.Time          `json:"time"`
	Processor string             `json:"processor"`
	Buffer    ringbuf.Snapshot   `json:"buffer"`
	Sessions  []session.Info     `json:"sessions"`
	Stats     util.StatsSnapshot `json:"stats"`
}

// Source produces the current status on demand.
type Source func() Status

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server pushes Status frames to every connected WebSocket client.
type Server struct {
	listener net.Listener
	srv      *http.Server
	source   Source
	interval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Listen starts the status feed on addr. interval <= 0 selects DefaultInterval.
func Listen(addr string, source Source, interval time.Duration) (*Server, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start status server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: listener,
		source:   source,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	s.srv = &http.Server{Handler: mux}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	util.LogDebug("status subscriber connected: %s", r.RemoteAddr)
	defer util.LogDebug("status subscriber left: %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Subscribers never send anything, but reading is what surfaces their
	// close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.source()); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close stops the server and disconnects every subscriber.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}

// Watch subscribes to the feed at url and calls fn for every frame until ctx
// is cancelled (nil error) or the connection fails.
func Watch(ctx context.Context, url string, fn func(Status)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to status feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var st Status
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("status feed lost: %w", err)
		}
		fn(st)
	}
}
