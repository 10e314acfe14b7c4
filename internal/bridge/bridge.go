// Package bridge wires the whole forwarding path together: USB ingress into
// the translator and the radio-bound queue, radio ingress into the USB-bound
// queue, one drain goroutine per direction, and the connection-state
// reactions that gate, suspend and flush traffic.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/queue"
	"github.com/etherlink/go-wifi-bridge/internal/radio"
	"github.com/etherlink/go-wifi-bridge/internal/station"
	"github.com/etherlink/go-wifi-bridge/internal/translator"
)

// USBSend hands one Ethernet frame to the USB transport writer. It must not
// block; overflow is reported as an error and the frame dropped.
type USBSend func(frame.Frame) error

const (
	defaultQueueCapacity = 10
	defaultSendRetries   = 3
	sendRetryDelay       = 2 * time.Millisecond

	// maxFrameBytes bounds what either queue accepts: a full Ethernet frame.
	maxFrameBytes = ether.MaxFrameLen
)

// Bridge is the top-level dispatcher.
type Bridge struct {
	station *station.Machine
	tr      *translator.Translator
	radio   radio.Stack
	sendUSB USBSend

	toRadio *queue.Queue
	toUSB   *queue.Queue

	sendRetries int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type Option func(*Bridge)

func WithStation(m *station.Machine) Option          { return func(b *Bridge) { b.station = m } }
func WithTranslator(t *translator.Translator) Option { return func(b *Bridge) { b.tr = t } }
func WithRadio(r radio.Stack) Option                 { return func(b *Bridge) { b.radio = r } }
func WithUSBSend(fn USBSend) Option                  { return func(b *Bridge) { b.sendUSB = fn } }

func WithQueueCapacity(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.toRadio = queue.New(n, maxFrameBytes)
			b.toUSB = queue.New(n, maxFrameBytes)
		}
	}
}

func WithSendRetries(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.sendRetries = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New assembles a bridge. The machine's reset hook is wired to invalidate
// the translator's address bindings, matching the Failed -> Idle contract.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		toRadio:     queue.New(defaultQueueCapacity, maxFrameBytes),
		toUSB:       queue.New(defaultQueueCapacity, maxFrameBytes),
		sendRetries: defaultSendRetries,
		logger:      logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.station != nil && b.tr != nil {
		b.station.OnReset = b.tr.Bindings().Invalidate
	}
	return b
}

// ToRadioQueue exposes the radio-bound queue (tests, diagnostics).
func (b *Bridge) ToRadioQueue() *queue.Queue { return b.toRadio }

// ToUSBQueue exposes the USB-bound queue (tests, diagnostics).
func (b *Bridge) ToUSBQueue() *queue.Queue { return b.toUSB }

// FromUSB is the USB ingress callback: translate one received Ethernet
// frame and queue the result. Never blocks; refused frames are counted by
// the queue.
func (b *Bridge) FromUSB(raw []byte) {
	res := b.tr.FromUSB(raw)
	if res.Reply != nil {
		// Locally answered ARP goes back out the USB side. The gate still
		// applies, so reachability is not advertised while the link is down.
		if err := b.toUSB.Enqueue(frame.New(frame.ToUSB, res.Reply)); err != nil {
			b.logger.Debug("arp_reply_drop", "error", err)
		}
		return
	}
	if res.Datagram == nil {
		return
	}
	fr := frame.New(frame.ToRadio, res.Datagram)
	if err := b.toRadio.Enqueue(fr); err != nil {
		b.logger.Debug("radio_enqueue_drop", "error", err, "seq", fr.Seq)
	}
}

// Run starts the drain loops, the radio receive loop and the state watcher,
// and blocks until ctx is cancelled and all of them have exited.
func (b *Bridge) Run(ctx context.Context) {
	b.wg.Add(4)
	go b.watchState(ctx)
	go b.recvRadio(ctx)
	go b.drainToRadio(ctx)
	go b.drainToUSB(ctx)
	<-ctx.Done()
	b.toRadio.Shutdown()
	b.toUSB.Shutdown()
	b.wg.Wait()
}

// watchState reacts to connection transitions: Connected opens the gates
// and publishes the leased address; leaving Connected suspends both
// directions, flushes radio-bound frames and marks bindings stale so no
// stale traffic survives a reconnect under a new address.
func (b *Bridge) watchState(ctx context.Context) {
	defer b.wg.Done()
	sub := b.station.Subscribe(8)
	wasConnected := false
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-sub:
			if st.State == station.Connected {
				b.tr.SetIP(st.IP)
				b.toRadio.Resume()
				b.toUSB.Resume()
				wasConnected = true
				b.logger.Info("bridge_forwarding", "ip", st.IP.String())
				continue
			}
			b.toRadio.Suspend()
			b.toUSB.Suspend()
			if n := b.toRadio.Discard(); n > 0 {
				metrics.AddDrops(metrics.DropLinkDown, n)
				b.logger.Info("bridge_flush", "discarded", n, "state", st.State.String())
			}
			if wasConnected {
				b.tr.Bindings().MarkStale()
				wasConnected = false
			}
		}
	}
}

// recvRadio feeds inbound datagrams through the translator into the
// USB-bound queue.
func (b *Bridge) recvRadio(ctx context.Context) {
	defer b.wg.Done()
	datagrams := b.radio.Datagrams()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-datagrams:
			if !ok {
				return
			}
			metrics.IncRadioRx()
			eth, ok := b.tr.ToUSB(pkt)
			if !ok {
				continue
			}
			fr := frame.New(frame.ToUSB, eth)
			if err := b.toUSB.Enqueue(fr); err != nil {
				b.logger.Debug("usb_enqueue_drop", "error", err, "seq", fr.Seq)
			}
		}
	}
}

// drainToRadio hands radio-bound datagrams to the stack with bounded
// retries. A frame that still fails is dropped and counted, never fatal.
func (b *Bridge) drainToRadio(ctx context.Context) {
	defer b.wg.Done()
	for {
		fr, err := b.toRadio.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrShutdown) || ctx.Err() != nil {
				return
			}
			continue
		}
		// The gate can race a disconnect between enqueue and here; re-check
		// so nothing reaches the radio outside Connected.
		if b.station.Status().State != station.Connected {
			metrics.IncDrop(metrics.DropLinkDown)
			continue
		}
		if err := b.sendWithRetry(func() error { return b.radio.SendDatagram(fr.Data) }); err != nil {
			metrics.IncError(metrics.ErrRadioSend)
			metrics.IncDrop(metrics.DropTxFail)
			b.logger.Warn("radio_send_drop", "error", err, "seq", fr.Seq)
			continue
		}
		metrics.IncRadioTx()
	}
}

// drainToUSB hands USB-bound frames to the transport writer.
func (b *Bridge) drainToUSB(ctx context.Context) {
	defer b.wg.Done()
	for {
		fr, err := b.toUSB.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrShutdown) || ctx.Err() != nil {
				return
			}
			continue
		}
		if err := b.sendWithRetry(func() error { return b.sendUSB(fr) }); err != nil {
			metrics.IncDrop(metrics.DropTxFail)
			b.logger.Warn("usb_send_drop", "error", err, "seq", fr.Seq)
		}
	}
}

func (b *Bridge) sendWithRetry(send func() error) error {
	var err error
	for attempt := 0; attempt < b.sendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(sendRetryDelay)
		}
		if err = send(); err == nil {
			return nil
		}
	}
	return err
}
