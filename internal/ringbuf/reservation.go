package ringbuf

import (
	"sync"

	"github.com/1ureka/ringxfer/internal/protocol"
)

// Reservation is one space credit taken from a Buffer. It is spent exactly
// once, by Commit or by Release.
type Reservation struct {
	buf   *Buffer
	mu    sync.Mutex
	spent bool
}

func (r *Reservation) spend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spent {
		return false
	}
	r.spent = true
	return true
}

// Commit copies pkt into the reserved slot and makes it visible to the
// consumer. If the copy fails the credit is returned to the buffer.
func (r *Reservation) Commit(pkt *protocol.Packet) error {
	if !r.spend() {
		return ErrReservationSpent
	}
	if err := r.buf.commit(pkt); err != nil {
		r.buf.release()
		return err
	}
	return nil
}

// Release abandons the reservation and returns its space credit.
func (r *Reservation) Release() error {
	if !r.spend() {
		return ErrReservationSpent
	}
	r.buf.release()
	return nil
}

// Spent reports whether the reservation has been committed or released.
func (r *Reservation) Spent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spent
}

// Slot is a dequeued packet still owned by the consumer. The packet must not
// be retained after Done.
type Slot struct {
	buf  *Buffer
	pkt  *protocol.Packet
	once sync.Once
}

// Packet returns the packet stored in the slot.
func (s *Slot) Packet() *protocol.Packet { return s.pkt }

// Done marks the slot consumed and returns its space credit. Calls after the
// first are no-ops.
func (s *Slot) Done() {
	s.once.Do(func() {
		s.buf.mu.Lock()
		s.pkt.ID = protocol.EmptyID
		s.buf.mu.Unlock()
		s.buf.release()
	})
}
