// Package station owns the wireless connection lifecycle: the single-writer
// state machine driving association, bounded retry with backoff, and the
// read-only status snapshots other components observe. Forwarding is only
// permitted in Connected, which requires both association success and an
// address lease.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/radio"
)

// State is the wireless link lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Retrying
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Status is a read-only snapshot of the machine. Attempt is the retry
// attempt currently in flight (0 outside Retrying); IP is the leased station
// address (zero until assigned).
type Status struct {
	State   State
	Attempt int
	IP      netip.Addr
}

var (
	ErrNotIdle   = errors.New("connect only valid from idle")
	ErrNotFailed = errors.New("reset only valid from failed")
)

// newRetryTimer allows tests to intercept backoff scheduling.
var newRetryTimer = time.NewTimer

type command struct {
	kind  cmdKind
	id    string
	cred  string
	reply chan error
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdReset
)

// Machine is the single writer of the connection state. All mutation flows
// through its Run loop; everything else observes snapshots or subscription
// channels.
type Machine struct {
	radio  radio.Stack
	policy RetryPolicy
	logger *slog.Logger

	// OnReset, if set, runs during a Failed -> Idle reset (used to
	// invalidate address bindings). Called from the Run loop.
	OnReset func()

	cmds chan command

	// retryTimer is the pending backoff before the next reconnect attempt.
	// Touched only from the Run goroutine.
	retryTimer *time.Timer

	mu     sync.RWMutex
	status Status

	subsMu sync.Mutex
	subs   []chan Status

	networkID  string
	credential string
	assoc      bool
	haveIP     bool
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates an idle machine supervising the given stack.
func New(r radio.Stack, policy RetryPolicy, opts ...Option) *Machine {
	m := &Machine{
		radio:  r,
		policy: policy,
		logger: logging.L(),
		cmds:   make(chan command, 4),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Status returns the current snapshot.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe registers a status observer. Notifications that would block are
// dropped; observers needing completeness should poll Status as well.
func (m *Machine) Subscribe(buf int) <-chan Status {
	ch := make(chan Status, buf)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Connect requests association with the named network. Valid only from
// Idle; the result reports command acceptance, not association success.
func (m *Machine) Connect(networkID, credential string) error {
	return m.send(command{kind: cmdConnect, id: networkID, cred: credential})
}

// Reset returns a Failed machine to Idle, clearing the retry counter and
// invoking OnReset.
func (m *Machine) Reset() error {
	return m.send(command{kind: cmdReset})
}

func (m *Machine) send(c command) error {
	c.reply = make(chan error, 1)
	m.cmds <- c
	return <-c.reply
}

// Run consumes radio events, commands and backoff expirations until ctx is
// done. It is the only goroutine that mutates the state; backoff waits are
// a timer case here, never an inline sleep, so the machine stays responsive
// to events and shutdown throughout a retry ladder.
func (m *Machine) Run(ctx context.Context) {
	events := m.radio.Events()
	for {
		select {
		case <-ctx.Done():
			m.stopRetry()
			return
		case cmd := <-m.cmds:
			cmd.reply <- m.handleCommand(cmd)
		case <-m.retryFire():
			m.retryConnect()
		case ev, ok := <-events:
			if !ok {
				m.stopRetry()
				return
			}
			m.handleEvent(ev)
		}
	}
}

// retryFire returns the pending backoff timer's channel, or nil (blocks
// forever in select) when no retry is scheduled.
func (m *Machine) retryFire() <-chan time.Time {
	if m.retryTimer == nil {
		return nil
	}
	return m.retryTimer.C
}

func (m *Machine) stopRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Machine) handleCommand(cmd command) error {
	st := m.Status()
	switch cmd.kind {
	case cmdConnect:
		if st.State != Idle {
			return fmt.Errorf("%w (state %s)", ErrNotIdle, st.State)
		}
		m.networkID, m.credential = cmd.id, cmd.cred
		m.assoc, m.haveIP = false, false
		m.transition(Status{State: Connecting})
		if err := m.radio.Connect(m.networkID, m.credential); err != nil {
			metrics.IncError(metrics.ErrRadioConnect)
			m.logger.Warn("radio_connect_error", "error", err)
			m.failureStep()
		}
		return nil
	case cmdReset:
		if st.State != Failed {
			return fmt.Errorf("%w (state %s)", ErrNotFailed, st.State)
		}
		m.assoc, m.haveIP = false, false
		if m.OnReset != nil {
			m.OnReset()
		}
		m.transition(Status{State: Idle})
		return nil
	}
	return nil
}

func (m *Machine) handleEvent(ev radio.Event) {
	st := m.Status()
	switch ev.Kind {
	case radio.EventStarted:
		m.logger.Info("station_started")
	case radio.EventConnected:
		m.logger.Info("station_associated")
		m.assoc = true
		m.maybeConnected(st)
	case radio.EventAddressAssigned:
		m.logger.Info("station_got_ip", "ip", ev.IP.String())
		m.haveIP = true
		m.setIP(ev.IP)
		m.maybeConnected(m.Status())
	case radio.EventDisconnected:
		m.logger.Info("station_disconnected", "reason", ev.Reason)
		m.assoc, m.haveIP = false, false
		switch st.State {
		case Connecting, Connected, Retrying:
			m.failureStep()
		default:
			// Idle or Failed: nothing to supervise.
		}
	}
}

// maybeConnected promotes to Connected once both association and an address
// lease are present.
func (m *Machine) maybeConnected(st Status) {
	if !m.assoc || !m.haveIP {
		return
	}
	if st.State != Connecting && st.State != Retrying {
		return
	}
	m.stopRetry()
	m.transition(Status{State: Connected, IP: st.IP})
	m.logger.Info("station_connected", "ip", st.IP.String())
}

// failureStep advances the retry ladder: Connecting/Connected go to
// Retrying(1), Retrying(n) to Retrying(n+1), and past the budget to Failed.
// Each retry schedules the policy backoff; the connect is re-issued when
// the timer fires back in the Run loop.
func (m *Machine) failureStep() {
	m.stopRetry()
	st := m.Status()
	next := 1
	if st.State == Retrying {
		next = st.Attempt + 1
	}
	if m.policy.Exhausted(next) {
		m.transition(Status{State: Failed})
		m.logger.Error("station_failed", "attempts", st.Attempt)
		return
	}
	wait := m.policy.Backoff(next)
	m.transition(Status{State: Retrying, Attempt: next})
	m.logger.Warn("station_retry", "attempt", next, "max", m.policy.MaxAttempts, "backoff", wait)
	m.retryTimer = newRetryTimer(wait)
}

// retryConnect re-issues the connect once a backoff expires.
func (m *Machine) retryConnect() {
	m.retryTimer = nil
	st := m.Status()
	if st.State != Retrying {
		return
	}
	metrics.IncRetry()
	if err := m.radio.Connect(m.networkID, m.credential); err != nil {
		metrics.IncError(metrics.ErrRadioConnect)
		m.logger.Warn("radio_connect_error", "error", err, "attempt", st.Attempt)
		m.failureStep()
	}
}

func (m *Machine) setIP(ip netip.Addr) {
	m.mu.Lock()
	m.status.IP = ip
	m.mu.Unlock()
}

func (m *Machine) transition(next Status) {
	m.mu.Lock()
	if next.IP == (netip.Addr{}) && next.State != Idle && next.State != Failed {
		next.IP = m.status.IP // carry the lease through retry states
	}
	m.status = next
	m.mu.Unlock()
	metrics.SetConnectionState(int(next.State))

	m.subsMu.Lock()
	subs := make([]chan Status, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
