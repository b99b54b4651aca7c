package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/ringbuf"
	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

// ReceiverOptions configures every receiver spawned by a server.
type ReceiverOptions struct {
	Checksum bool // verify each packet's MD5 before enqueuing
	Verbose  bool // log the buffer contents after each enqueue
}

// Receiver runs the server side of the handshake for one connection and
// stages validated packets in the shared buffer. Receivers on different
// connections share only the buffer and the registry.
type Receiver struct {
	conn transport.Conn
	buf  *ringbuf.Buffer
	reg  *Registry
	opts ReceiverOptions

	// Per-session state
	clockBias int64 // receiver clock − sender clock, ms
	pkt       *protocol.Packet
	frame     []byte
	rep       RecvReport
}

// NewReceiver creates a receiver for conn. The packet payload size is taken
// from buf, which both ends must agree on.
func NewReceiver(conn transport.Conn, buf *ringbuf.Buffer, reg *Registry, opts ReceiverOptions) *Receiver {
	return &Receiver{
		conn:  conn,
		buf:   buf,
		reg:   reg,
		opts:  opts,
		pkt:   protocol.NewPacket(buf.PayloadSize()),
		frame: make([]byte, protocol.FrameSize(buf.PayloadSize())),
	}
}

// Serve runs the session until the sender finishes, the connection fails, or
// ctx is cancelled. It registers the session for its whole duration, logs the
// totals and closes the connection before returning.
func (r *Receiver) Serve(ctx context.Context) (RecvReport, error) {
	unregister := r.reg.Register(r.conn.ID(), r.conn.Peer())
	defer unregister()
	defer r.conn.Close()

	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	start := time.Now()
	err := r.serve(ctx)

	r.rep.Elapsed = time.Since(start)
	if r.rep.Read > 0 {
		r.rep.AvgBandwidth /= float64(r.rep.Read)
	}
	if err != nil {
		util.LogError("[%08x] session failed at %d%%: %v", r.conn.ID(), percent(r.rep.Read, r.rep.Expected), err)
	}
	r.rep.Log(r.conn.ID())
	if r.rep.Received == 0 {
		util.LogInfo("[%08x] no packets added to the processing queue", r.conn.ID())
	}
	return r.rep, err
}

func (r *Receiver) serve(ctx context.Context) error {
	// 1. Clock bias.
	senderMs, err := protocol.ReadInt(r.conn)
	if err != nil {
		return fmt.Errorf("read clock: %w", err)
	}
	r.clockBias = time.Now().UnixMilli() - senderMs
	util.LogInfo("[%08x] clock bias = %.3f s", r.conn.ID(), float64(r.clockBias)/1000)

	// 2. Packet count.
	n, err := protocol.ReadInt(r.conn)
	if err != nil {
		return fmt.Errorf("read packet count: %w", err)
	}
	r.rep.Expected = int(n)
	util.LogInfo("[%08x] reading %d incoming packets...", r.conn.ID(), n)

	// 3. Packets.
	for {
		tok, err := protocol.ReadText(r.conn)
		if err != nil {
			return fmt.Errorf("connection lost before %s: %w", protocol.TokenClientFinished, err)
		}

		switch tok {
		case protocol.TokenClientFinished:
			return nil
		case protocol.TokenClientReady:
		default:
			util.LogDebug("[%08x] ignoring stray token %q", r.conn.ID(), tok)
			continue
		}

		if err := r.receivePacket(ctx); err != nil {
			if errors.Is(err, protocol.ErrIntegrityMismatch) {
				util.LogWarning("[%08x]   [%3d%%] -> %v, skipping", r.conn.ID(), percent(r.rep.Read, r.rep.Expected), err)
				continue
			}
			return err
		}
	}
}

// receivePacket handles one READY → ACK → packet → bandwidth exchange. The
// slot reservation taken before the ACK is committed on success and released
// on every other path, so space credits stay balanced.
func (r *Receiver) receivePacket(ctx context.Context) error {
	// A full buffer blocks here, before the ACK, which stalls the sender.
	res, err := r.buf.Reserve(ctx)
	if err != nil {
		return fmt.Errorf("reserve buffer slot: %w", err)
	}
	defer func() {
		if !res.Spent() {
			res.Release()
		}
	}()

	if err := protocol.WriteText(r.conn, protocol.TokenAck); err != nil {
		return err
	}

	n, err := protocol.ReadPacket(r.conn, r.frame, r.pkt)
	if err != nil {
		return err
	}
	transit := time.Now().UnixMilli() - r.pkt.Timestamp - r.clockBias

	bw := bandwidth(n, transit)
	if err := protocol.WriteFloat(r.conn, bw); err != nil {
		return err
	}

	r.rep.Read++
	r.rep.Bytes += int64(n)
	r.rep.AvgBandwidth += bw
	util.Stats.AddRecv(n)

	if r.opts.Checksum && !protocol.Verify(r.pkt) {
		r.rep.Dropped++
		util.Stats.AddDropped()
		if err := res.Release(); err != nil {
			return err
		}
		return fmt.Errorf("%w: invalid checksum in packet %d", protocol.ErrIntegrityMismatch, r.pkt.ID)
	}

	if err := res.Commit(r.pkt); err != nil {
		return fmt.Errorf("enqueue packet %d: %w", r.pkt.ID, err)
	}
	r.rep.Received++
	util.Stats.AddEnqueued()

	util.LogInfo("[%08x]   [%3d%%] -> received packet %d | %.2f MB | %6.1f MB/s",
		r.conn.ID(), percent(r.rep.Read, r.rep.Expected), r.pkt.ID, float64(n)/megabyte, bw)
	if r.opts.Verbose {
		util.LogInfo("[%08x]      %s", r.conn.ID(), r.buf.Snapshot())
	}
	return nil
}
