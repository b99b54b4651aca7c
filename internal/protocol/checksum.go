package protocol

import (
	"crypto/md5"
	"encoding/binary"
)

// Digest computes the MD5 of the packet's wire image with the timestamp and
// checksum fields zeroed.
func Digest(pkt *Packet) [ChecksumSize]byte {
	h := md5.New()
	h.Write(pkt.Payload)

	var trailer [TrailerSize]byte
	binary.BigEndian.PutUint32(trailer[8+ChecksumSize:], uint32(pkt.ID))
	h.Write(trailer[:])

	var sum [ChecksumSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Sign stores the packet's digest in its Checksum field.
func Sign(pkt *Packet) {
	pkt.Checksum = Digest(pkt)
}

// Verify reports whether the transmitted checksum matches the packet contents.
func Verify(pkt *Packet) bool {
	return Digest(pkt) == pkt.Checksum
}
