package protocol

import "errors"

var (
	// ErrTransport is a connection-level I/O failure. Fatal to that connection.
	ErrTransport = errors.New("transport error")

	// ErrProtocolViolation is an unexpected control token or a malformed frame.
	// Fatal to the connection, never retried.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrIntegrityMismatch is a checksum mismatch. The packet is dropped and
	// the connection continues.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
)
