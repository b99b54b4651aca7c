package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes pkt into dst, which must be exactly FrameSize(len(pkt.Payload))
// bytes long. The wire layout is payload | timestamp | checksum | id.
func Encode(dst []byte, pkt *Packet) error {
	n := len(pkt.Payload)
	if len(dst) != FrameSize(n) {
		return fmt.Errorf("frame buffer is %d bytes (need %d)", len(dst), FrameSize(n))
	}
	copy(dst, pkt.Payload)
	binary.BigEndian.PutUint64(dst[n:n+8], uint64(pkt.Timestamp))
	copy(dst[n+8:n+8+ChecksumSize], pkt.Checksum[:])
	binary.BigEndian.PutUint32(dst[n+8+ChecksumSize:], uint32(pkt.ID))
	return nil
}

// Decode deserializes a frame into pkt, reusing pkt.Payload. The frame must be
// exactly FrameSize(len(pkt.Payload)) bytes.
func Decode(src []byte, pkt *Packet) error {
	n := len(pkt.Payload)
	if len(src) != FrameSize(n) {
		return fmt.Errorf("%w: frame is %d bytes (need %d)", ErrProtocolViolation, len(src), FrameSize(n))
	}
	copy(pkt.Payload, src[:n])
	pkt.Timestamp = int64(binary.BigEndian.Uint64(src[n : n+8]))
	copy(pkt.Checksum[:], src[n+8:n+8+ChecksumSize])
	pkt.ID = int32(binary.BigEndian.Uint32(src[n+8+ChecksumSize:]))
	return nil
}
