package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// TextFrameSize is the fixed size of every control frame. Text is NUL-padded.
const TextFrameSize = 8192

// Control tokens.
const (
	TokenClientReady    = "CLIENT_READY"
	TokenAck            = "ACK"
	TokenClientFinished = "CLIENT_FINISHED"
)

// WriteText writes s as one fixed-size control frame.
func WriteText(w io.Writer, s string) error {
	if len(s) >= TextFrameSize {
		return fmt.Errorf("text frame too long: %d bytes", len(s))
	}
	var frame [TextFrameSize]byte
	copy(frame[:], s)
	if _, err := w.Write(frame[:]); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrTransport, err)
	}
	return nil
}

// ReadText reads one fixed-size control frame and returns its text up to the
// first NUL byte.
func ReadText(r io.Reader) (string, error) {
	var frame [TextFrameSize]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		return "", fmt.Errorf("%w: read frame: %w", ErrTransport, err)
	}
	if i := bytes.IndexByte(frame[:], 0); i >= 0 {
		return string(frame[:i]), nil
	}
	return string(frame[:]), nil
}

// WriteInt writes v as a decimal text frame.
func WriteInt(w io.Writer, v int64) error {
	return WriteText(w, strconv.FormatInt(v, 10))
}

// ReadInt reads a decimal text frame.
func ReadInt(r io.Reader) (int64, error) {
	s, err := ReadText(r)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrProtocolViolation, s)
	}
	return v, nil
}

// WriteFloat writes v as a "%f" text frame.
func WriteFloat(w io.Writer, v float64) error {
	return WriteText(w, strconv.FormatFloat(v, 'f', 6, 64))
}

// ReadFloat reads a floating-point text frame.
func ReadFloat(r io.Reader) (float64, error) {
	s, err := ReadText(r)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected number, got %q", ErrProtocolViolation, s)
	}
	return v, nil
}

// WritePacket encodes pkt into buf and writes it as a single binary frame.
// buf must be FrameSize(len(pkt.Payload)) bytes and is reused across calls.
func WritePacket(w io.Writer, buf []byte, pkt *Packet) error {
	if err := Encode(buf, pkt); err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write packet: %w", ErrTransport, err)
	}
	return nil
}

// ReadPacket reads exactly one binary frame into buf and decodes it into pkt.
// A stream that ends mid-frame is a protocol violation: a partial packet
// cannot be recovered.
func ReadPacket(r io.Reader, buf []byte, pkt *Packet) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: packet has wrong size (%d of %d bytes)", ErrProtocolViolation, n, len(buf))
		}
		return n, fmt.Errorf("%w: read packet: %w", ErrTransport, err)
	}
	return n, Decode(buf, pkt)
}
