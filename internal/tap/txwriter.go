//go:build linux

package tap

import (
	"context"
	"errors"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/transport"
)

var ErrTxOverflow = errors.New("tap tx overflow")

// Dev is the device surface the writer needs (satisfied by *Device and test
// fakes).
type Dev interface {
	ReadFrame(p []byte) (int, error)
	WriteFrame(p []byte) error
	Close() error
}

// TXWriter funnels all TAP writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a TAP TXWriter with a buffered ring of size buf.
func NewTXWriter(parent context.Context, dev Dev, buf int) *TXWriter {
	send := func(fr frame.Frame) error { return dev.WriteFrame(fr.Data) }
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrTapWrite)
			logging.L().Error("tap_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncUsbTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrUsbOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous write (ErrTxOverflow when the
// ring is full).
func (w *TXWriter) SendFrame(fr frame.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker to exit.
func (w *TXWriter) Close() { w.base.Close() }
