// Package translator converts between the Ethernet frames of the USB
// segment and the bare IP datagrams the radio stack carries. Inbound it
// strips and validates link headers and answers ARP for the bridge's own
// address; outbound it resynthesizes headers from the address-binding table,
// falling back to a fixed gateway MAC so transmission never waits on
// resolution.
package translator

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

// Inbound is the outcome of translating one frame from the USB segment.
// At most one of Datagram and Reply is set: Datagram is a bare IP packet to
// forward toward the radio stack, Reply is a locally generated Ethernet
// frame (ARP answer) to send back out the USB side. Both nil means the
// frame was consumed (dropped or ARP not addressed to us).
type Inbound struct {
	Datagram []byte
	Reply    []byte
}

type Translator struct {
	mac      ether.MAC // bridge's own MAC, source of synthesized frames
	fallback ether.MAC // used when no binding exists for a destination
	binds    *Bindings
	logger   *slog.Logger

	mu sync.RWMutex
	ip netip.Addr // assigned station address; zero until leased
}

// Option configures a Translator.
type Option func(*Translator)

func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a translator. mac is the bridge's own address; fallback is the
// destination used for unresolved outbound frames (zero means broadcast);
// bindingTTL bounds address-binding inactivity.
func New(mac, fallback ether.MAC, bindingTTL time.Duration, opts ...Option) *Translator {
	if fallback.IsZero() {
		fallback = ether.Broadcast
	}
	t := &Translator{
		mac:      mac,
		fallback: fallback,
		binds:    NewBindings(bindingTTL),
		logger:   logging.L(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetIP records the station address assigned by the network; ARP requests
// for it are answered locally from then on.
func (t *Translator) SetIP(ip netip.Addr) {
	t.mu.Lock()
	t.ip = ip
	t.mu.Unlock()
}

// IP returns the currently assigned station address.
func (t *Translator) IP() netip.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ip
}

// Bindings exposes the address table for lifecycle hooks (stale marking on
// link loss, invalidation on reset).
func (t *Translator) Bindings() *Bindings { return t.binds }

// FromUSB translates one Ethernet frame arriving from the USB segment.
// Malformed or unsupported frames are counted and consumed, never returned
// as faults.
func (t *Translator) FromUSB(raw []byte) Inbound {
	hdr, payload, err := ether.ParseHeader(raw)
	if err != nil {
		metrics.IncMalformed()
		t.logger.Debug("frame_malformed", "error", err, "len", len(raw))
		return Inbound{}
	}
	switch hdr.Type {
	case ether.TypeARP:
		return t.handleARP(hdr, payload)
	case ether.TypeIPv4:
		src, _, err := ether.IPv4Addrs(payload)
		if err != nil {
			metrics.IncMalformed()
			t.logger.Debug("ipv4_malformed", "error", err)
			return Inbound{}
		}
		t.binds.Refresh(src, hdr.Src)
		return Inbound{Datagram: payload}
	default:
		metrics.IncDrop(metrics.DropUnsupported)
		t.logger.Debug("ethertype_unsupported", "type", hdr.Type)
		return Inbound{}
	}
}

func (t *Translator) handleARP(hdr ether.Header, payload []byte) Inbound {
	req, err := ether.ParseARP(payload)
	if err != nil {
		metrics.IncMalformed()
		t.logger.Debug("arp_malformed", "error", err)
		return Inbound{}
	}
	// Any ARP traffic teaches us the sender's addressing.
	if req.SenderIP.IsValid() && !req.SenderIP.IsUnspecified() {
		t.binds.Refresh(req.SenderIP, req.SenderMAC)
	}
	if req.Op != ether.OpRequest {
		return Inbound{}
	}
	t.mu.RLock()
	ip := t.ip
	t.mu.RUnlock()
	if !ip.IsValid() || req.TargetIP != ip {
		// Single-peer topology: nothing else answers on this segment, so a
		// request for another host is simply consumed.
		return Inbound{}
	}
	reply := ether.ReplyTo(req, t.mac)
	metrics.IncARPReply()
	t.logger.Debug("arp_reply", "target", req.SenderIP.String())
	return Inbound{Reply: ether.BuildFrame(hdr.Src, t.mac, ether.TypeARP, reply.Marshal())}
}

// ToUSB wraps a bare IP datagram from the radio stack in an Ethernet frame
// for the USB segment. An unresolved destination uses the fallback MAC;
// this path never blocks on resolution. The second result is false when the
// datagram is malformed (counted, consumed).
func (t *Translator) ToUSB(pkt []byte) ([]byte, bool) {
	_, dst, err := ether.IPv4Addrs(pkt)
	if err != nil {
		metrics.IncMalformed()
		t.logger.Debug("radio_datagram_malformed", "error", err)
		return nil, false
	}
	mac, ok := t.binds.Lookup(dst)
	if !ok {
		mac = t.fallback
	}
	return ether.BuildFrame(mac, t.mac, ether.TypeIPv4, pkt), true
}
