// Package processor drains the ring buffer. A single Processor runs for the
// whole life of the server, independent of how many receivers are connected.
package processor

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/ringbuf"
	"github.com/1ureka/ringxfer/internal/session"
	"github.com/1ureka/ringxfer/internal/util"
)

// Handler is the processing step applied to each dequeued packet. The packet
// is only valid for the duration of the call.
type Handler func(ctx context.Context, pkt *protocol.Packet) error

// Noop is the default handler.
func Noop(context.Context, *protocol.Packet) error { return nil }

// State is the processor's observable activity state.
type State int

const (
	StateBusy    State = iota // draining items
	StateWaiting              // buffer empty, receivers connected
	StateIdle                 // buffer empty, no receivers
)

func (s State) String() string {
	switch s {
	case StateBusy:
		return "busy"
	case StateWaiting:
		return "waiting"
	case StateIdle:
		return "idle"
	}
	return "unknown"
}

// Option configures a Processor.
type Option func(*Processor)

// WithHandler sets the processing step.
func WithHandler(h Handler) Option {
	return func(p *Processor) { p.handle = h }
}

// WithRate limits processing to pps packets per second, emulating a consumer
// slower than the network. pps <= 0 means unlimited.
func WithRate(pps float64) Option {
	return func(p *Processor) {
		if pps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(pps), 1)
		}
	}
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(p *Processor) { p.onState = fn }
}

// Processor is the single consumer of a Buffer.
type Processor struct {
	buf     *ringbuf.Buffer
	reg     *session.Registry
	handle  Handler
	limiter *rate.Limiter
	onState func(State)

	state    State
	hasState bool
	current  atomic.Int32 // mirrors state for readers outside Run
}

// New creates a processor for buf. reg supplies the active receiver count
// used to tell "idle" from "waiting".
func New(buf *ringbuf.Buffer, reg *session.Registry, opts ...Option) *Processor {
	p := &Processor{
		buf:    buf,
		reg:    reg,
		handle: Noop,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.current.Store(int32(StateIdle))
	return p
}

// State reports the most recent activity state. It is safe to call from any
// goroutine.
func (p *Processor) State() State {
	return State(p.current.Load())
}

// Run drains the buffer until ctx is cancelled or the buffer is destroyed.
// It returns nil in both cases.
//
// When the buffer is empty it blocks on either a new item or a change in the
// registry, never polling, and reports each idle/waiting transition once.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if slot, ok := p.buf.TryDequeue(); ok {
			p.setState(StateBusy)
			p.process(ctx, slot)
			continue
		}

		changed := p.reg.Changed()
		if p.reg.Active() > 0 {
			p.setState(StateWaiting)
		} else {
			p.setState(StateIdle)
		}

		slot, err := p.waitForItem(ctx, changed)
		if err != nil {
			if errors.Is(err, ringbuf.ErrDestroyed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if slot != nil {
			p.setState(StateBusy)
			p.process(ctx, slot)
		}
	}
}

// waitForItem blocks until an item is dequeued (non-nil slot) or the
// registry changes (nil slot, nil error).
func (p *Processor) waitForItem(ctx context.Context, changed <-chan struct{}) (*ringbuf.Slot, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-changed:
			cancel()
		case <-wctx.Done():
		}
	}()

	slot, err := p.buf.Dequeue(wctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	return slot, nil
}

// process runs the handler and always hands the slot back, even when the
// handler fails or ctx is cancelled mid-wait.
func (p *Processor) process(ctx context.Context, slot *ringbuf.Slot) {
	defer slot.Done()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	pkt := slot.Packet()
	if err := p.handle(ctx, pkt); err != nil {
		util.LogWarning("failed to process packet %d: %v", pkt.ID, err)
	} else {
		util.LogDebug("processed packet %d", pkt.ID)
	}
	util.Stats.AddProcessed()
}

func (p *Processor) setState(s State) {
	if p.hasState && p.state == s {
		return
	}
	p.state = s
	p.hasState = true
	p.current.Store(int32(s))

	switch s {
	case StateIdle:
		util.LogInfo("No packets in processing queue, waiting...")
	case StateWaiting:
		util.LogDebug("processing queue empty, waiting for connected senders")
	case StateBusy:
		util.LogDebug("processing queue active")
	}
	if p.onState != nil {
		p.onState(s)
	}
}
