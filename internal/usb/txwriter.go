package usb

import (
	"context"
	"errors"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/transport"
)

var ErrTxOverflow = errors.New("usb tx overflow")

// TXWriter funnels all USB writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a USB TXWriter with a buffered ring of size buf.
func NewTXWriter(parent context.Context, p Port, codec Codec, buf int) *TXWriter {
	send := func(fr frame.Frame) error {
		_, err := p.Write(codec.Encode(fr.Data))
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrUsbWrite)
			logging.L().Error("usb_write_error", "error", err)
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
