// Package util provides logging, counters and small shared helpers.
package util

import (
	"hash/fnv"
)

// SessionID computes a 4-byte hash from the two endpoints of a connection.
// The hash is used solely for log prefixes and does not need to be reversible.
func SessionID(local, remote string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(local))
	h.Write([]byte(remote))
	return h.Sum32()
}
