// Package protocol defines the packet format and control frames exchanged
// between a sender and a receiver.
package protocol

// EmptyID marks a slot that holds no unconsumed packet.
const EmptyID int32 = -1

// ChecksumSize is the digest length carried by every packet (MD5).
const ChecksumSize = 16

// TrailerSize is the fixed metadata size appended after the payload:
// Timestamp(8) + Checksum(16) + ID(4).
const TrailerSize = 8 + ChecksumSize + 4

// DefaultPayloadSize is the payload size used when none is configured.
const DefaultPayloadSize = 4 << 20

// Packet is the unit of data sent to the receiver. Payload length is fixed for
// a whole session and must be agreed out-of-band by both ends.
type Packet struct {
	Payload   []byte
	Timestamp int64 // sender-side send time, ms since epoch
	Checksum  [ChecksumSize]byte
	ID        int32
}

// NewPacket allocates an empty packet with a zeroed payload of the given size.
func NewPacket(payloadSize int) *Packet {
	return &Packet{
		Payload: make([]byte, payloadSize),
		ID:      EmptyID,
	}
}

// FrameSize returns the exact number of bytes a packet occupies on the wire.
func FrameSize(payloadSize int) int {
	return payloadSize + TrailerSize
}

// CopyFrom overwrites p with the contents of src. Both payloads must have the
// same length; the destination storage is reused.
func (p *Packet) CopyFrom(src *Packet) {
	copy(p.Payload, src.Payload)
	p.Timestamp = src.Timestamp
	p.Checksum = src.Checksum
	p.ID = src.ID
}
