// Package transport holds the shared asynchronous transmit plumbing used by
// the byte-stream writers (USB serial, TAP).
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
)

// AsyncTx funnels frame writes through a single worker goroutine (fan-in)
// with non-blocking enqueue semantics: a full buffer invokes the OnDrop hook
// and returns its error instead of stalling the producer. Ingress callbacks
// feeding it therefore stay bounded in latency even when the device wedges.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendFrame(fr)
//	a.Close()
//
// Sends after Close are rejected with ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan frame.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(frame.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior per transport (distinct metrics and
// logging without duplicating the goroutine plumbing).
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from SendFrame. Nil means silent best-effort overflow.
	OnDrop func() error
}

var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf and
// starts its worker.
func NewAsyncTx(parent context.Context, buf int, send func(frame.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan frame.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues a frame for asynchronous transmission, or returns the
// drop error when the buffer is full.
func (a *AsyncTx) SendFrame(fr frame.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. Idempotent.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
