package radio

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

// UDPStack tunnels IP datagrams to a fixed peer over UDP. It stands in for
// a real 802.11 station: association becomes a socket dial, the assigned
// address is the socket's local address, and a read error becomes a
// disconnect event. The network identifier and credential are accepted for
// interface parity and only logged; the tunnel peer is fixed at
// construction.
type UDPStack struct {
	peer   string
	mu     sync.Mutex
	conn   *net.UDPConn
	events chan Event
	rx     chan []byte
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var ErrNotAssociated = errors.New("radio: not associated")

// NewUDPStack creates an idle stack tunneling to peer (host:port). Event
// and datagram channels are buffered so slow consumers do not wedge the
// socket reader.
func NewUDPStack(peer string) *UDPStack {
	return &UDPStack{
		peer:   peer,
		events: make(chan Event, 16),
		rx:     make(chan []byte, 32),
	}
}

func (s *UDPStack) Events() <-chan Event { return s.events }
func (s *UDPStack) Datagrams() <-chan []byte { return s.rx }

func (s *UDPStack) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Never block the stack on a slow observer.
	}
}

// Connect dials the peer and emits Started, Connected and AddressAssigned.
func (s *UDPStack) Connect(networkID, credential string) error {
	_ = credential
	logging.L().Info("radio_connect", "network", networkID, "peer", s.peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("radio: stack closed")
	}
	if s.conn != nil {
		return nil // already associated
	}
	raddr, err := net.ResolveUDPAddr("udp", s.peer)
	if err != nil {
		return fmt.Errorf("radio: resolve %q: %w", s.peer, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("radio: dial %q: %w", s.peer, err)
	}
	s.conn = conn
	s.done = make(chan struct{})
	s.emit(Event{Kind: EventStarted})
	s.emit(Event{Kind: EventConnected})
	if ap, ok := netip.AddrFromSlice(conn.LocalAddr().(*net.UDPAddr).IP); ok {
		s.emit(Event{Kind: EventAddressAssigned, IP: ap.Unmap()})
	}
	s.wg.Add(1)
	go s.readLoop(conn, s.done)
	return nil
}

func (s *UDPStack) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer s.wg.Done()
	buf := make([]byte, ether.MTU)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-done:
				return // deliberate teardown, not a link loss
			default:
			}
			logging.L().Warn("radio_read_error", "error", err)
			// Drop the association so a reconnect attempt re-dials and runs
			// the full lifecycle again instead of finding a dead socket.
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.done = nil
			}
			s.mu.Unlock()
			_ = conn.Close()
			s.emit(Event{Kind: EventDisconnected, Reason: err.Error()})
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case s.rx <- pkt:
		default:
			metrics.IncDrop(metrics.DropFull)
		}
	}
}

// Disconnect closes the socket and emits Disconnected.
func (s *UDPStack) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.conn = nil
	s.done = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(done)
	err := conn.Close()
	s.wg.Wait()
	s.emit(Event{Kind: EventDisconnected, Reason: "requested"})
	return err
}

// SendDatagram transmits one datagram to the peer.
func (s *UDPStack) SendDatagram(pkt []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotAssociated
	}
	_, err := conn.Write(pkt)
	return err
}

// Close tears the stack down and closes both delivery channels.
func (s *UDPStack) Close() error {
	err := s.Disconnect()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	s.closed = true
	close(s.events)
	close(s.rx)
	return err
}
