package processor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/ringxfer/internal/processor"
	"github.com/1ureka/ringxfer/internal/protocol"
	"github.com/1ureka/ringxfer/internal/ringbuf"
	"github.com/1ureka/ringxfer/internal/session"
)

const testPayload = 16

func newBuffer(t *testing.T, capacity int) *ringbuf.Buffer {
	t.Helper()
	b, err := ringbuf.New(capacity, testPayload)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Destroy)
	return b
}

func enqueue(t *testing.T, b *ringbuf.Buffer, id int32) {
	t.Helper()
	pkt := protocol.NewPacket(testPayload)
	pkt.ID = id
	if err := b.Enqueue(context.Background(), pkt); err != nil {
		t.Fatalf("Enqueue(%d): %v", id, err)
	}
}

// startProcessor runs p in the background and returns a function that stops
// it and waits for Run to return.
func startProcessor(t *testing.T, p *processor.Processor) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

func TestProcessorDrainsInOrder(t *testing.T) {
	b := newBuffer(t, 4)
	reg := session.NewRegistry()

	var mu sync.Mutex
	var got []int32
	all := make(chan struct{})
	p := processor.New(b, reg, processor.WithHandler(func(_ context.Context, pkt *protocol.Packet) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, pkt.ID)
		if len(got) == 10 {
			close(all)
		}
		return nil
	}))
	stop := startProcessor(t, p)
	defer stop()

	for i := int32(0); i < 10; i++ {
		enqueue(t, b, i)
	}

	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not drain 10 items")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range got {
		if id != int32(i) {
			t.Fatalf("drain order %v", got)
		}
	}
}

func TestProcessorReleasesSlotOnHandlerError(t *testing.T) {
	b := newBuffer(t, 1)
	reg := session.NewRegistry()

	calls := make(chan int32, 4)
	p := processor.New(b, reg, processor.WithHandler(func(_ context.Context, pkt *protocol.Packet) error {
		calls <- pkt.ID
		return errors.New("boom")
	}))
	stop := startProcessor(t, p)
	defer stop()

	// With capacity 1, the second Enqueue only returns if the first slot
	// was handed back despite the handler error.
	enqueue(t, b, 0)
	enqueue(t, b, 1)

	for want := int32(0); want < 2; want++ {
		select {
		case id := <-calls:
			if id != want {
				t.Fatalf("got %d, want %d", id, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("handler not called for %d", want)
		}
	}
}

// TestProcessorStateTransitions checks that each idle/waiting/busy change is
// reported exactly once.
func TestProcessorStateTransitions(t *testing.T) {
	b := newBuffer(t, 2)
	reg := session.NewRegistry()

	states := make(chan processor.State, 32)
	release := make(chan struct{})
	p := processor.New(b, reg,
		processor.WithStateHook(func(s processor.State) { states <- s }),
		processor.WithHandler(func(context.Context, *protocol.Packet) error {
			<-release
			return nil
		}),
	)
	stop := startProcessor(t, p)
	defer stop()

	expect := func(want processor.State) {
		t.Helper()
		select {
		case got := <-states:
			if got != want {
				t.Fatalf("state: got %v, want %v", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no transition to %v", want)
		}
	}
	expectNone := func() {
		t.Helper()
		select {
		case got := <-states:
			t.Fatalf("unexpected transition to %v", got)
		case <-time.After(50 * time.Millisecond):
		}
	}

	expect(processor.StateIdle)
	expectNone()

	unregister := reg.Register(1, "a")
	expect(processor.StateWaiting)

	// A second receiver does not change the state.
	unregister2 := reg.Register(2, "b")
	expectNone()

	enqueue(t, b, 0)
	expect(processor.StateBusy)
	close(release)
	expect(processor.StateWaiting)

	unregister()
	expectNone()
	unregister2()
	expect(processor.StateIdle)
	expectNone()
}

func TestProcessorRateLimit(t *testing.T) {
	b := newBuffer(t, 8)
	reg := session.NewRegistry()

	done := make(chan struct{})
	var n int
	p := processor.New(b, reg,
		processor.WithRate(50),
		processor.WithHandler(func(context.Context, *protocol.Packet) error {
			n++
			if n == 5 {
				close(done)
			}
			return nil
		}),
	)

	start := time.Now()
	for i := int32(0); i < 5; i++ {
		enqueue(t, b, i)
	}
	stop := startProcessor(t, p)
	defer stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rate-limited processor did not finish")
	}
	// One token up front, then one every 20ms.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("5 packets at 50/s took %v", elapsed)
	}
}

func TestProcessorStopsOnDestroy(t *testing.T) {
	b, err := ringbuf.New(2, testPayload)
	if err != nil {
		t.Fatal(err)
	}
	p := processor.New(b, session.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	b.Destroy()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Destroy")
	}
}

func TestProcessorStateBeforeRun(t *testing.T) {
	p := processor.New(newBuffer(t, 2), session.NewRegistry())
	if got := p.State(); got != processor.StateIdle {
		t.Errorf("State() = %v, want %v", got, processor.StateIdle)
	}
}
