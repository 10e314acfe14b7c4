package translator

import (
	"net/netip"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

// Bindings maps IP addresses to the MAC addresses observed (or fabricated)
// for them, so outbound frames toward the USB segment carry consistent
// link-layer addressing. At most one binding exists per IP. Entries expire
// after an inactivity TTL and survive reconnect attempts as stale entries
// until refreshed; a full reset invalidates the table.
type Bindings struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[netip.Addr]*binding

	// now is an indirection for tests.
	now func() time.Time
}

type binding struct {
	mac      ether.MAC
	lastSeen time.Time
	stale    bool
}

// NewBindings creates a table with the given inactivity TTL (<=0 disables
// expiry).
func NewBindings(ttl time.Duration) *Bindings {
	return &Bindings{
		ttl:     ttl,
		entries: make(map[netip.Addr]*binding),
		now:     time.Now,
	}
}

// Refresh creates or updates the binding for ip, clearing any stale mark.
func (b *Bindings) Refresh(ip netip.Addr, mac ether.MAC) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[ip]
	if !ok {
		e = &binding{}
		b.entries[ip] = e
	}
	e.mac = mac
	e.lastSeen = b.now()
	e.stale = false
	metrics.SetBindings(len(b.entries))
}

// Lookup returns the live binding for ip. Expired entries are removed on
// access; stale entries (marked after a link loss) are not trusted until
// refreshed, so callers fall back to the configured gateway MAC.
func (b *Bindings) Lookup(ip netip.Addr) (ether.MAC, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[ip]
	if !ok {
		return ether.MAC{}, false
	}
	if b.ttl > 0 && b.now().Sub(e.lastSeen) > b.ttl {
		delete(b.entries, ip)
		metrics.SetBindings(len(b.entries))
		return ether.MAC{}, false
	}
	if e.stale {
		return ether.MAC{}, false
	}
	return e.mac, true
}

// MarkStale flags every entry as untrusted without forgetting it; the next
// Refresh of an address revalidates it.
func (b *Bindings) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		e.stale = true
	}
}

// Invalidate drops the whole table (Failed -> Idle reset).
func (b *Bindings) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	metrics.SetBindings(0)
}

// Len reports the number of entries, stale included.
func (b *Bindings) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
