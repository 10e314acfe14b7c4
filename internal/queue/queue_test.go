package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
)

func mustDropReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var de *DropError
	if !errors.As(err, &de) {
		t.Fatalf("expected DropError, got %v", err)
	}
	if de.Reason != want {
		t.Fatalf("expected drop reason %s, got %s", want, de.Reason)
	}
}

func TestEnqueueFullNeverBlocks(t *testing.T) {
	q := New(4, 100)
	q.Resume()
	for i := 0; i < 4; i++ {
		if err := q.Enqueue(frame.New(frame.ToRadio, []byte{byte(i)})); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	start := time.Now()
	for i := 0; i < 1000; i++ {
		err := q.Enqueue(frame.New(frame.ToRadio, []byte{0xFF}))
		mustDropReason(t, err, Full)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("enqueue on full queue took too long: %s", elapsed)
	}
	if q.Len() != 4 {
		t.Fatalf("queue grew past capacity: len=%d", q.Len())
	}
}

func TestEnqueueWhileLinkDown(t *testing.T) {
	// Queue capacity 10, 15 frames injected while disconnected: none
	// buffered, all dropped with LinkDown.
	q := New(10, 100)
	for i := 0; i < 15; i++ {
		err := q.Enqueue(frame.New(frame.ToRadio, []byte{byte(i)}))
		mustDropReason(t, err, LinkDown)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue while suspended, len=%d", q.Len())
	}
}

func TestOversizeRejected(t *testing.T) {
	q := New(4, 8)
	q.Resume()
	err := q.Enqueue(frame.New(frame.ToRadio, make([]byte, 9)))
	mustDropReason(t, err, Oversize)
	if q.Len() != 0 {
		t.Fatalf("oversize frame was buffered")
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New(8, 100)
	q.Resume()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(frame.New(frame.ToUSB, []byte{byte(i)})); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		fr, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if fr.Data[0] != byte(i) {
			t.Fatalf("order violated at %d: got %d", i, fr.Data[0])
		}
	}
}

func TestDequeueBlocksUntilFrame(t *testing.T) {
	q := New(2, 100)
	q.Resume()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(frame.New(frame.ToRadio, []byte{0x42}))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fr, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if fr.Data[0] != 0x42 {
		t.Fatalf("unexpected frame %v", fr.Data)
	}
}

func TestDequeueContextCancel(t *testing.T) {
	q := New(2, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestShutdownReleasesConsumer(t *testing.T) {
	q := New(2, 100)
	q.Resume()
	_ = q.Enqueue(frame.New(frame.ToRadio, []byte{1}))
	q.Shutdown()
	// Prior frame still drains, then shutdown surfaces.
	ctx := context.Background()
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("expected buffered frame before shutdown error: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	// Enqueue after shutdown drops, never panics.
	if err := q.Enqueue(frame.New(frame.ToRadio, []byte{2})); err == nil {
		t.Fatalf("expected drop after shutdown")
	}
	q.Shutdown() // idempotent
}

func TestDiscard(t *testing.T) {
	q := New(8, 100)
	q.Resume()
	for i := 0; i < 6; i++ {
		_ = q.Enqueue(frame.New(frame.ToRadio, []byte{byte(i)}))
	}
	if n := q.Discard(); n != 6 {
		t.Fatalf("expected 6 discarded, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after discard")
	}
}
