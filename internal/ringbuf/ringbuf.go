// Package ringbuf implements the bounded packet ring shared by every receiver
// and drained by a single processor.
//
// Flow control uses two counting semaphores, modeled as buffered channels:
// space (credits to write one slot, initially the capacity) and count
// (credits to read one occupied slot, initially zero). A mutex serializes
// index advancement and slot copies; semaphore waits always happen outside it.
//
// Space is returned only once the consumer has finished with a slot
// (Slot.Done), never when the read index merely advances, so a slot that is
// still being processed cannot be overwritten.
package ringbuf

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/ringxfer/internal/protocol"
)

var (
	// ErrInvalidCapacity is returned by New when the capacity is not a
	// positive power of two.
	ErrInvalidCapacity = errors.New("ringbuf: capacity must be a positive power of two")

	// ErrDestroyed is returned by operations on a destroyed buffer.
	ErrDestroyed = errors.New("ringbuf: destroyed")

	// ErrReservationSpent is returned when a reservation is committed or
	// released more than once.
	ErrReservationSpent = errors.New("ringbuf: reservation already spent")
)

// Buffer is a fixed-capacity circular array of packet slots.
type Buffer struct {
	capacity    int
	mask        uint64
	payloadSize int

	count chan struct{} // one token per committed, not yet dequeued slot
	space chan struct{} // one token per writable slot

	mu    sync.Mutex
	slots []*protocol.Packet
	write uint64 // total commits since creation
	read  uint64 // total dequeues since creation

	done        chan struct{}
	destroyOnce sync.Once
}

// New creates a buffer with capacity preallocated slots, each holding a
// payload of payloadSize bytes and ID protocol.EmptyID.
func New(capacity, payloadSize int) (*Buffer, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}
	if payloadSize < 0 {
		return nil, errors.New("ringbuf: negative payload size")
	}

	b := &Buffer{
		capacity:    capacity,
		mask:        uint64(capacity - 1),
		payloadSize: payloadSize,
		count:       make(chan struct{}, capacity),
		space:       make(chan struct{}, capacity),
		slots:       make([]*protocol.Packet, capacity),
		done:        make(chan struct{}),
	}
	for i := range b.slots {
		b.slots[i] = protocol.NewPacket(payloadSize)
		b.space <- struct{}{}
	}
	return b, nil
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return b.capacity }

// PayloadSize returns the payload size every slot was allocated with.
func (b *Buffer) PayloadSize() int { return b.payloadSize }

// Len returns the number of committed packets not yet dequeued.
func (b *Buffer) Len() int { return len(b.count) }

// Free returns the number of space credits currently available.
func (b *Buffer) Free() int { return len(b.space) }

// Enqueue copies pkt into the next free slot, blocking while the buffer is
// full. It never drops data: with a non-cancellable context it waits until
// the consumer releases a slot.
func (b *Buffer) Enqueue(ctx context.Context, pkt *protocol.Packet) error {
	r, err := b.Reserve(ctx)
	if err != nil {
		return err
	}
	return r.Commit(pkt)
}

// Reserve takes one space credit, blocking while the buffer is full. The
// returned reservation must be either committed or released.
func (b *Buffer) Reserve(ctx context.Context) (*Reservation, error) {
	select {
	case <-b.done:
		return nil, ErrDestroyed
	default:
	}

	select {
	case <-b.space:
		return &Reservation{buf: b}, nil
	case <-b.done:
		return nil, ErrDestroyed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dequeue blocks until a packet is available and returns a handle to its
// slot. The slot stays reserved for the caller until Slot.Done is called.
func (b *Buffer) Dequeue(ctx context.Context) (*Slot, error) {
	select {
	case <-b.count:
		return b.take()
	case <-b.done:
		return nil, ErrDestroyed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryDequeue is the non-blocking form of Dequeue.
func (b *Buffer) TryDequeue() (*Slot, bool) {
	select {
	case <-b.count:
		s, err := b.take()
		return s, err == nil
	default:
		return nil, false
	}
}

// take advances the read index after a count credit has been acquired.
func (b *Buffer) take() (*Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slots == nil {
		return nil, ErrDestroyed
	}
	pkt := b.slots[b.read&b.mask]
	b.read++
	return &Slot{buf: b, pkt: pkt}, nil
}

// commit copies pkt into the slot at the write index and publishes it.
func (b *Buffer) commit(pkt *protocol.Packet) error {
	if len(pkt.Payload) != b.payloadSize {
		return errors.New("ringbuf: payload size does not match buffer slots")
	}

	b.mu.Lock()
	if b.slots == nil {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.slots[b.write&b.mask].CopyFrom(pkt)
	b.write++
	b.mu.Unlock()

	b.count <- struct{}{}
	return nil
}

// release returns one space credit.
func (b *Buffer) release() {
	b.space <- struct{}{}
}

// Destroy releases all slot storage and wakes every blocked waiter with
// ErrDestroyed. It is safe to call more than once; storage is released
// exactly once. Callers must not have enqueue or dequeue operations in flight.
func (b *Buffer) Destroy() {
	b.destroyOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.slots = nil
		b.mu.Unlock()
	})
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
