package ringbuf

import (
	"fmt"
	"strings"

	"github.com/1ureka/ringxfer/internal/protocol"
)

// Snapshot is a best-effort view of buffer occupancy for diagnostics. It is
// taken under the index mutex but the semaphore counters are sampled
// separately, so the fields need not be mutually consistent.
type Snapshot struct {
	Capacity int     `json:"capacity"`
	Write    uint64  `json:"write"`
	Read     uint64  `json:"read"`
	Pending  int     `json:"pending"`
	Free     int     `json:"free"`
	IDs      []int32 `json:"ids"`
}

// Snapshot returns the current slot IDs and counters. A destroyed buffer
// yields a snapshot with no IDs.
func (b *Buffer) Snapshot() Snapshot {
	s := Snapshot{
		Capacity: b.capacity,
		Pending:  len(b.count),
		Free:     len(b.space),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s.Write = b.write
	s.Read = b.read
	if b.slots != nil {
		s.IDs = make([]int32, len(b.slots))
		for i, p := range b.slots {
			s.IDs[i] = p.ID
		}
	}
	return s
}

// Occupied returns the number of slots holding an unconsumed packet,
// including slots dequeued but not yet marked done.
func (s Snapshot) Occupied() int {
	n := 0
	for _, id := range s.IDs {
		if id != protocol.EmptyID {
			n++
		}
	}
	return n
}

// String renders one cell per slot, e.g. "| 03 | -- | 04 |".
func (s Snapshot) String() string {
	var sb strings.Builder
	for _, id := range s.IDs {
		if id == protocol.EmptyID {
			sb.WriteString("| -- ")
		} else {
			fmt.Fprintf(&sb, "| %02d ", id)
		}
	}
	sb.WriteString("|")
	return sb.String()
}
