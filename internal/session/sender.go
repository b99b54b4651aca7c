// Package session implements both ends of the transfer handshake: the
// Sender, which pushes packets one acknowledged exchange at a time, and the
// Receiver, which stages them in the shared ring buffer.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/transport"
	"github.com/1ureka/ringxfer/internal/util"
)

// SenderOptions configures one sender run.
type SenderOptions struct {
	Packets     int
	PayloadSize int
	Checksum    bool
	FirstID     int32 // ID of the first packet; later packets count up from it
}

// Sender drives the client side of the handshake over one connection.
type Sender struct {
	conn transport.Conn
	opts SenderOptions
	seq  SeqGen
}

// NewSender creates a sender bound to conn.
func NewSender(conn transport.Conn, opts SenderOptions) *Sender {
	return &Sender{conn: conn, opts: opts}
}

// Run performs the full exchange:
//  1. Send the local wall-clock time (for the receiver's clock bias)
//  2. Send the number of packets to expect
//  3. For each packet: CLIENT_READY → wait for ACK → packet → bandwidth
//  4. Send CLIENT_FINISHED, exactly once, however step 3 ended
//
// A control token other than ACK aborts step 3 with ErrProtocolViolation; the
// report then carries the partial count. Cancelling ctx closes the connection.
func (s *Sender) Run(ctx context.Context) (SendReport, error) {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	start := time.Now()
	rep := SendReport{Requested: s.opts.Packets}

	loopErr := s.exchange(&rep)

	// Best effort after a transport failure: the stream is most likely gone.
	finErr := protocol.WriteText(s.conn, protocol.TokenClientFinished)

	rep.Elapsed = time.Since(start)
	if rep.Sent > 0 {
		rep.AvgBandwidth /= float64(rep.Sent)
	}
	rep.Aborted = errors.Is(loopErr, protocol.ErrProtocolViolation)

	if loopErr != nil {
		if errors.Is(loopErr, protocol.ErrTransport) {
			return rep, loopErr
		}
		return rep, errors.Join(loopErr, finErr)
	}
	return rep, finErr
}

func (s *Sender) exchange(rep *SendReport) error {
	if err := protocol.WriteInt(s.conn, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("send clock: %w", err)
	}
	if err := protocol.WriteInt(s.conn, int64(s.opts.Packets)); err != nil {
		return fmt.Errorf("send packet count: %w", err)
	}

	util.LogInfo("[%08x] sending %d packets...", s.conn.ID(), s.opts.Packets)

	pkt := protocol.NewPacket(s.opts.PayloadSize)
	frame := make([]byte, protocol.FrameSize(s.opts.PayloadSize))

	for i := 0; i < s.opts.Packets; i++ {
		pkt.ID = s.opts.FirstID + s.seq.Next()
		fillPayload(pkt)
		pkt.Timestamp = 0
		if s.opts.Checksum {
			protocol.Sign(pkt)
		}

		if err := protocol.WriteText(s.conn, protocol.TokenClientReady); err != nil {
			return err
		}

		tok, err := protocol.ReadText(s.conn)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", protocol.TokenAck, err)
		}
		if tok != protocol.TokenAck {
			return fmt.Errorf("%w: got %q instead of %s", protocol.ErrProtocolViolation, tok, protocol.TokenAck)
		}

		pkt.Timestamp = time.Now().UnixMilli()
		if err := protocol.WritePacket(s.conn, frame, pkt); err != nil {
			return err
		}

		bw, err := protocol.ReadFloat(s.conn)
		if err != nil {
			if !errors.Is(err, protocol.ErrProtocolViolation) {
				return err
			}
			util.LogDebug("[%08x] unreadable bandwidth report: %v", s.conn.ID(), err)
			bw = 0
		}

		rep.Sent++
		rep.Bytes += int64(len(frame))
		rep.AvgBandwidth += bw

		util.LogInfo("[%08x]   [%3d%%] -> sent packet | %.2f MB | %6.1f MB/s",
			s.conn.ID(), percent(i+1, s.opts.Packets), float64(len(frame))/megabyte, bw)
	}
	return nil
}

// fillPayload writes content derived from the packet ID, so every packet
// differs and a receiver can tell corrupted payloads apart.
func fillPayload(pkt *protocol.Packet) {
	var seed [32]byte
	binary.BigEndian.PutUint32(seed[:], uint32(pkt.ID))
	rand.NewChaCha8(seed).Read(pkt.Payload)
}
