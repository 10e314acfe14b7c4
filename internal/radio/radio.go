// Package radio defines the boundary to the wireless station stack. The
// 802.11 association, key exchange and physical transmission live behind
// this interface; the bridge only sees connection lifecycle events and bare
// IP datagrams.
package radio

import "net/netip"

// EventKind enumerates lifecycle notifications from the stack.
type EventKind int

const (
	EventStarted EventKind = iota
	EventConnected
	EventDisconnected
	EventAddressAssigned
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAddressAssigned:
		return "address_assigned"
	}
	return "unknown"
}

// Event is a typed lifecycle notification. Reason is set for disconnects,
// IP for address assignment.
type Event struct {
	Kind   EventKind
	Reason string
	IP     netip.Addr
}

// Stack is the wireless station the bridge drives. Implementations must
// deliver Events and Datagrams from their own goroutines; both channels
// close when the stack is torn down.
type Stack interface {
	// Connect initiates association with the named network. Completion is
	// reported via Events, not the return value.
	Connect(networkID, credential string) error
	// Disconnect tears the association down.
	Disconnect() error
	// SendDatagram transmits one bare IP datagram.
	SendDatagram(pkt []byte) error
	// Events delivers lifecycle notifications in order.
	Events() <-chan Event
	// Datagrams delivers inbound IP datagrams.
	Datagrams() <-chan []byte
}
