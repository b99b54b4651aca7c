// Package server runs the receiving side: one shared ring buffer, one
// processor draining it, and up to MaxClients receivers filling it, one per
// accepted connection.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/ringxfer/internal/config"
	"github.com/1ureka/ringxfer/internal/monitor"
	"github.com/1ureka/ringxfer/internal/processor"
	"github.com/1ureka/ringxfer/internal/ringbuf"
	"github.com/1ureka/ringxfer/internal/session"
	"github.com/1ureka/ringxfer/internal/signaling"
	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

// Server owns the buffer, the session registry and the processor.
type Server struct {
	cfg  config.Config
	buf  *ringbuf.Buffer
	reg  *session.Registry
	proc *processor.Processor
	opts session.ReceiverOptions
}

// New builds the shared state described by cfg. Extra processor options are
// applied after the rate limit from cfg.
func New(cfg config.Config, opts ...processor.Option) (*Server, error) {
	buf, err := ringbuf.New(cfg.Capacity, cfg.PayloadSize)
	if err != nil {
		return nil, err
	}

	reg := session.NewRegistry()
	opts = append([]processor.Option{processor.WithRate(cfg.Rate)}, opts...)

	return &Server{
		cfg:  cfg,
		buf:  buf,
		reg:  reg,
		proc: processor.New(buf, reg, opts...),
		opts: session.ReceiverOptions{
			Checksum: cfg.Checksum,
			Verbose:  cfg.Verbose,
		},
	}, nil
}

// Buffer returns the shared ring buffer.
func (s *Server) Buffer() *ringbuf.Buffer { return s.buf }

// Registry returns the registry of active receivers.
func (s *Server) Registry() *session.Registry { return s.reg }

// Status samples the state published by the status feed.
func (s *Server) Status() monitor.Status {
	return monitor.Status{
		Time:      time.Now(),
		Processor: s.proc.State().String(),
		Buffer:    s.buf.Snapshot(),
		Sessions:  s.reg.Sessions(),
		Stats:     util.Stats.Snapshot(),
	}
}

// Listen opens the listener selected by cfg.Transport.
func Listen(cfg config.Config) (transport.Listener, error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.Transport == config.TransportWebRTC {
		return signaling.Listen(addr)
	}
	return transport.ListenTCP(addr)
}

// Serve accepts connections from ln until ctx is cancelled or Accept fails.
// At most MaxClients receivers run at once; further senders wait in the
// listener's backlog.
//
// On return every receiver has finished, the processor has stopped and the
// buffer is destroyed, so a Server serves exactly once.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.StatusAddr != "" {
		mon, err := monitor.Listen(s.cfg.StatusAddr, s.Status, monitor.DefaultInterval)
		if err != nil {
			return err
		}
		defer mon.Close()
		util.LogInfo("status feed on ws://%s%s", mon.Addr(), monitor.Path)
	}

	procDone := make(chan error, 1)
	go func() {
		procDone <- s.proc.Run(ctx)
	}()

	slots := make(chan struct{}, s.cfg.MaxClients)
	var wg sync.WaitGroup
	var acceptErr error

loop:
	for {
		select {
		case slots <- struct{}{}:
		default:
			util.LogWarning("client limit (%d) reached, waiting for a session to end", s.cfg.MaxClients)
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
		}

		conn, err := ln.Accept(ctx)
		if err != nil {
			<-slots
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("failed to accept connection: %w", err)
			}
			break
		}

		util.Stats.AddConn()
		util.LogInfo("[%08x] accepted connection from %s", conn.ID(), conn.Peer())

		wg.Go(func() {
			defer func() { <-slots }()
			defer util.Stats.RemoveConn()

			session.NewReceiver(conn, s.buf, s.reg, s.opts).Serve(ctx)
		})
	}

	cancel()
	ln.Close()
	wg.Wait()

	procErr := <-procDone
	s.buf.Destroy()
	util.LogInfo("ring buffer released")

	if acceptErr != nil {
		return acceptErr
	}
	return procErr
}
