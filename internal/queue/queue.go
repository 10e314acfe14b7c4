// Package queue provides the bounded, backpressured holding areas between
// the bridge's ingress callbacks and its drain goroutines. Enqueue never
// blocks: ingress paths are I/O callbacks that must stay bounded in latency,
// so overflow and link-down conditions drop the offered frame instead of
// stalling the producer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

// Reason classifies why an enqueue was refused.
type Reason int

const (
	Full Reason = iota
	LinkDown
	Oversize
)

func (r Reason) String() string {
	switch r {
	case Full:
		return "full"
	case LinkDown:
		return "link_down"
	case Oversize:
		return "oversize"
	}
	return "unknown"
}

func (r Reason) metricLabel() string {
	switch r {
	case Full:
		return metrics.DropFull
	case LinkDown:
		return metrics.DropLinkDown
	default:
		return metrics.DropOversize
	}
}

// DropError reports a refused enqueue. The offered frame was not retained.
type DropError struct {
	Reason Reason
}

func (e *DropError) Error() string { return fmt.Sprintf("frame dropped: %s", e.Reason) }

// ErrShutdown is returned by Dequeue once the queue is shut down and empty.
var ErrShutdown = errors.New("queue shut down")

// Queue is a fixed-capacity FIFO of frames for one bridge direction.
// Enqueue is non-blocking (tail-drop on overflow); Dequeue blocks the single
// drain goroutine. A gate, toggled on connection-state transitions, refuses
// frames while the link cannot carry them.
type Queue struct {
	ch   chan frame.Frame
	max  int // max frame bytes accepted
	open atomic.Bool

	mu       sync.Mutex
	shutdown bool
}

// New creates a queue with the given slot capacity and maximum frame size.
// The queue starts gated closed; Resume opens it.
func New(capacity, maxFrame int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan frame.Frame, capacity), max: maxFrame}
}

// Resume opens the gate: the link can carry traffic.
func (q *Queue) Resume() { q.open.Store(true) }

// Suspend closes the gate: subsequent enqueues drop with LinkDown.
func (q *Queue) Suspend() { q.open.Store(false) }

// Enqueue offers a frame without blocking. On refusal the frame is dropped,
// the matching metric incremented, and a *DropError returned.
func (q *Queue) Enqueue(fr frame.Frame) error {
	if q.max > 0 && len(fr.Data) > q.max {
		return q.drop(Oversize)
	}
	if !q.open.Load() {
		return q.drop(LinkDown)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return q.drop(LinkDown)
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		// Tail-drop: refuse the newest frame so in-flight older frames keep
		// their order through the burst.
		return q.drop(Full)
	}
}

func (q *Queue) drop(r Reason) error {
	metrics.IncDrop(r.metricLabel())
	return &DropError{Reason: r}
}

// Dequeue blocks until a frame is available, the context is cancelled, or
// the queue is shut down and drained.
func (q *Queue) Dequeue(ctx context.Context) (frame.Frame, error) {
	select {
	case fr, ok := <-q.ch:
		if !ok {
			return frame.Frame{}, ErrShutdown
		}
		return fr, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// Discard empties the queue without delivering, returning the number of
// frames thrown away. Used when the link leaves Connected so stale frames
// are never transmitted after a reconnect.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case _, ok := <-q.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Len reports the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the configured slot capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Shutdown gates the queue and closes it; pending frames remain readable
// until drained, after which Dequeue returns ErrShutdown. Idempotent.
func (q *Queue) Shutdown() {
	q.open.Store(false)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.shutdown = true
	close(q.ch)
}
