package ringbuf_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/ringbuf"
)

const testPayload = 32

func newTestBuffer(t *testing.T, capacity int) *ringbuf.Buffer {
	t.Helper()
	b, err := ringbuf.New(capacity, testPayload)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	t.Cleanup(b.Destroy)
	return b
}

func packetWithID(id int32) *protocol.Packet {
	pkt := protocol.NewPacket(testPayload)
	pkt.ID = id
	pkt.Timestamp = int64(id) * 10
	for i := range pkt.Payload {
		pkt.Payload[i] = byte(id)
	}
	return pkt
}

func mustEnqueue(t *testing.T, b *ringbuf.Buffer, id int32) {
	t.Helper()
	if err := b.Enqueue(context.Background(), packetWithID(id)); err != nil {
		t.Fatalf("Enqueue(%d): %v", id, err)
	}
}

func mustDequeue(t *testing.T, b *ringbuf.Buffer) *ringbuf.Slot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := b.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	return s
}

func TestNewCapacity(t *testing.T) {
	for _, c := range []int{0, -1, 3, 6, 12, 1000} {
		if _, err := ringbuf.New(c, testPayload); !errors.Is(err, ringbuf.ErrInvalidCapacity) {
			t.Errorf("New(%d): got %v, want ErrInvalidCapacity", c, err)
		}
	}

	for _, c := range []int{1, 2, 8, 1024} {
		b := newTestBuffer(t, c)
		if b.Cap() != c || b.Free() != c || b.Len() != 0 {
			t.Errorf("New(%d): cap=%d free=%d len=%d", c, b.Cap(), b.Free(), b.Len())
		}
		snap := b.Snapshot()
		if len(snap.IDs) != c {
			t.Fatalf("New(%d): %d slots", c, len(snap.IDs))
		}
		for i, id := range snap.IDs {
			if id != protocol.EmptyID {
				t.Errorf("New(%d): slot %d has id %d", c, i, id)
			}
		}
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	b := newTestBuffer(t, 4)

	src := packetWithID(7)
	protocol.Sign(src)
	if err := b.Enqueue(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	// The buffer owns a copy.
	src.Payload[0] = 0xFF

	s := mustDequeue(t, b)
	got := s.Packet()
	if got.ID != 7 || got.Timestamp != 70 || got.Payload[0] != 7 {
		t.Fatalf("got id=%d ts=%d payload[0]=%d", got.ID, got.Timestamp, got.Payload[0])
	}
	if !protocol.Verify(got) {
		t.Error("checksum no longer matches after round trip")
	}
	s.Done()

	if b.Free() != 4 {
		t.Errorf("free after Done: got %d, want 4", b.Free())
	}
	if snap := b.Snapshot(); snap.Occupied() != 0 {
		t.Errorf("occupied after Done: %d", snap.Occupied())
	}
}

func TestCapacityOneSequential(t *testing.T) {
	b := newTestBuffer(t, 1)

	for i := int32(0); i < 20; i++ {
		mustEnqueue(t, b, i)
		s := mustDequeue(t, b)
		if s.Packet().ID != i {
			t.Fatalf("got id %d, want %d", s.Packet().ID, i)
		}
		s.Done()
	}
}

// TestEnqueueBlocksUntilDone verifies that a full buffer unblocks only after a
// dequeued slot has been marked done, not when the read index advances.
func TestEnqueueBlocksUntilDone(t *testing.T) {
	b := newTestBuffer(t, 2)
	mustEnqueue(t, b, 0)
	mustEnqueue(t, b, 1)

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- b.Enqueue(context.Background(), packetWithID(2))
	}()

	select {
	case <-enqueued:
		t.Fatal("Enqueue into a full buffer did not block")
	case <-time.After(50 * time.Millisecond):
	}

	s := mustDequeue(t, b)

	select {
	case <-enqueued:
		t.Fatal("Enqueue unblocked before the slot was done")
	case <-time.After(50 * time.Millisecond):
	}

	s.Done()

	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue still blocked after Done")
	}
}

func TestDequeueCancel(t *testing.T) {
	b := newTestBuffer(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}

	if _, ok := b.TryDequeue(); ok {
		t.Fatal("TryDequeue on empty buffer returned a slot")
	}
}

func TestReserveCancelKeepsCredit(t *testing.T) {
	b := newTestBuffer(t, 1)
	mustEnqueue(t, b, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Reserve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if b.Free() != 0 || b.Len() != 1 {
		t.Fatalf("free=%d len=%d", b.Free(), b.Len())
	}
}

func TestReservationRelease(t *testing.T) {
	b := newTestBuffer(t, 4)

	r, err := b.Reserve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.Free() != 3 {
		t.Fatalf("free after Reserve: got %d, want 3", b.Free())
	}

	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if b.Free() != 4 {
		t.Fatalf("free after Release: got %d, want 4", b.Free())
	}
	if !r.Spent() {
		t.Error("reservation not marked spent")
	}

	if err := r.Release(); !errors.Is(err, ringbuf.ErrReservationSpent) {
		t.Errorf("second Release: got %v", err)
	}
	if err := r.Commit(packetWithID(1)); !errors.Is(err, ringbuf.ErrReservationSpent) {
		t.Errorf("Commit after Release: got %v", err)
	}
	if b.Free() != 4 || b.Len() != 0 {
		t.Errorf("credits changed by spent reservation: free=%d len=%d", b.Free(), b.Len())
	}
}

func TestCommitWrongPayloadSize(t *testing.T) {
	b := newTestBuffer(t, 2)

	r, err := b.Reserve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Commit(protocol.NewPacket(testPayload + 1)); err == nil {
		t.Fatal("Commit accepted a packet of the wrong size")
	}
	if b.Free() != 2 || b.Len() != 0 {
		t.Errorf("credits not restored: free=%d len=%d", b.Free(), b.Len())
	}
}

// TestSlowConsumerOrder enqueues ids 0..9 into a capacity-4 buffer faster
// than the consumer drains it. The fifth enqueue must block until the first
// slot is consumed, and the drained order must be 0..9.
func TestSlowConsumerOrder(t *testing.T) {
	b := newTestBuffer(t, 4)

	progress := make(chan int32, 10)
	go func() {
		for i := int32(0); i < 10; i++ {
			if err := b.Enqueue(context.Background(), packetWithID(i)); err != nil {
				return
			}
			progress <- i
		}
	}()

	for i := int32(0); i < 4; i++ {
		select {
		case got := <-progress:
			if got != i {
				t.Fatalf("enqueue order: got %d, want %d", got, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("enqueue %d did not complete", i)
		}
	}

	select {
	case got := <-progress:
		t.Fatalf("enqueue %d completed while the buffer was full", got)
	case <-time.After(50 * time.Millisecond):
	}

	var drained []int32
	first := mustDequeue(t, b)
	drained = append(drained, first.Packet().ID)
	first.Done()

	select {
	case got := <-progress:
		if got != 4 {
			t.Fatalf("got %d, want 4", got)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue 4 did not unblock after one slot was consumed")
	}

	for len(drained) < 10 {
		s := mustDequeue(t, b)
		drained = append(drained, s.Packet().ID)
		time.Sleep(time.Millisecond)
		s.Done()
	}

	for i, id := range drained {
		if id != int32(i) {
			t.Fatalf("drained order %v", drained)
		}
	}
}

// TestConcurrentProducers runs several producers against one consumer and
// checks for loss, duplication, per-producer ordering and the capacity bound.
func TestConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		perProd   = 200
		capacity  = 8
	)
	b := newTestBuffer(t, capacity)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Go(func() {
			for i := 0; i < perProd; i++ {
				if err := b.Enqueue(context.Background(), packetWithID(int32(p*perProd+i))); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		})
	}

	seen := make(map[int32]bool)
	last := make([]int32, producers)
	for i := range last {
		last[i] = -1
	}

	for n := 0; n < producers*perProd; n++ {
		if l := b.Len(); l > capacity {
			t.Fatalf("outstanding items %d exceed capacity %d", l, capacity)
		}
		s := mustDequeue(t, b)
		id := s.Packet().ID
		if id == protocol.EmptyID {
			t.Fatal("dequeued an empty slot")
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true

		p := id / perProd
		if id <= last[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, id, last[p])
		}
		last[p] = id
		s.Done()
	}
	wg.Wait()

	if len(seen) != producers*perProd {
		t.Fatalf("got %d unique ids, want %d", len(seen), producers*perProd)
	}
	if b.Free() != capacity {
		t.Errorf("free at end: got %d, want %d", b.Free(), capacity)
	}
}

func TestDestroy(t *testing.T) {
	b, err := ringbuf.New(2, testPayload)
	if err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() {
		_, err := b.Dequeue(context.Background())
		blocked <- err
	}()
	time.Sleep(10 * time.Millisecond)

	b.Destroy()
	b.Destroy()

	select {
	case err := <-blocked:
		if !errors.Is(err, ringbuf.ErrDestroyed) {
			t.Fatalf("blocked Dequeue: got %v, want ErrDestroyed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Destroy did not wake the blocked Dequeue")
	}

	if !b.Destroyed() {
		t.Error("Destroyed() = false")
	}
	if snap := b.Snapshot(); snap.IDs != nil {
		t.Errorf("slots not released: %v", snap.IDs)
	}
	if err := b.Enqueue(context.Background(), packetWithID(1)); !errors.Is(err, ringbuf.ErrDestroyed) {
		t.Errorf("Enqueue after Destroy: got %v", err)
	}
}

func TestSnapshotString(t *testing.T) {
	b := newTestBuffer(t, 4)
	mustEnqueue(t, b, 3)
	mustEnqueue(t, b, 12)

	snap := b.Snapshot()
	if got, want := snap.String(), "| 03 | 12 | -- | -- |"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	if snap.Pending != 2 || snap.Free != 2 || snap.Write != 2 || snap.Read != 0 {
		t.Errorf("snapshot counters: %+v", snap)
	}
	if snap.Occupied() != 2 {
		t.Errorf("Occupied: got %d, want 2", snap.Occupied())
	}
}
