// Package conn keeps a single live-event connection open to the backend.
//
// Every state change happens on one goroutine that consumes messages from a
// channel. Each dial creates a new attempt handle, and the goroutines serving
// that attempt tag everything they send with it. The loop only acts on
// messages whose handle is the one it currently tracks, so a connection that
// was replaced or disposed can never touch session state again.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flitsinc/agentlab/internal/events"
)

const DefaultReconnectDelay = 3 * time.Second

type State string

const (
	StateIdle               State = "idle"
	StateConnecting         State = "connecting"
	StateOpen               State = "open"
	StateClosing            State = "closing"
	StateReconnectScheduled State = "reconnect_scheduled"
)

// Conn is one established connection. Read blocks until the next message
// arrives; any error ends the connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sink receives decoded events in arrival order and connectivity changes.
// It is called from the manager goroutine and must not block for long.
type Sink interface {
	SetConnected(connected bool)
	Deliver(ev events.Event, raw []byte)
}

type Options struct {
	Dialer         Dialer
	Sink           Sink
	Clock          Clock
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

type Manager struct {
	opts Options

	msgs      chan message
	done      chan struct{}
	startOnce sync.Once

	state     atomic.Value
	connected atomic.Bool

	// Owned by the run goroutine.
	addr     string
	current  *attempt
	retry    *retry
	seq      uint64
	disposed bool
}

type attempt struct {
	id     uint64
	addr   string
	cancel context.CancelFunc
	conn   Conn
}

type retry struct {
	timer Timer
}

type message interface{ isMessage() }

type establishMsg struct{ addr string }
type disposeMsg struct{}
type openedMsg struct {
	a    *attempt
	conn Conn
}
type frameMsg struct {
	a    *attempt
	data []byte
}
type closedMsg struct {
	a   *attempt
	err error
}
type retryMsg struct{ r *retry }

func (establishMsg) isMessage() {}
func (disposeMsg) isMessage()   {}
func (openedMsg) isMessage()    {}
func (frameMsg) isMessage()     {}
func (closedMsg) isMessage()    {}
func (retryMsg) isMessage()     {}

func NewManager(opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	m := &Manager{
		opts: opts,
		msgs: make(chan message, 64),
		done: make(chan struct{}),
	}
	m.state.Store(StateIdle)
	return m, nil
}

func (m *Manager) logger() *slog.Logger {
	if m.opts.Logger != nil {
		return m.opts.Logger
	}
	return slog.Default()
}

// Establish connects to addr unless a connection is already open, being
// dialed, or scheduled to be retried against the same address.
func (m *Manager) Establish(addr string) {
	m.startOnce.Do(func() { go m.run() })
	m.send(establishMsg{addr: addr})
}

// Dispose closes the connection, cancels any scheduled reconnect and waits
// for the manager goroutine to exit. The manager cannot be reused.
func (m *Manager) Dispose() {
	m.startOnce.Do(func() { go m.run() })
	m.send(disposeMsg{})
	<-m.done
}

func (m *Manager) Connected() bool {
	return m.connected.Load()
}

func (m *Manager) State() State {
	return m.state.Load().(State)
}

func (m *Manager) send(msg message) bool {
	select {
	case m.msgs <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for msg := range m.msgs {
		if m.handle(msg) {
			return
		}
	}
}

// handle applies one message and reports whether the loop should exit.
func (m *Manager) handle(msg message) bool {
	switch msg := msg.(type) {
	case establishMsg:
		m.establish(msg.addr)
	case disposeMsg:
		m.dispose()
		return true
	case openedMsg:
		if msg.a != m.current {
			_ = msg.conn.Close()
			return false
		}
		msg.a.conn = msg.conn
		m.setConnected(true)
		m.setState(StateOpen)
		m.logger().Info("connected", "addr", msg.a.addr, "attempt", msg.a.id)
	case frameMsg:
		if msg.a != m.current {
			return false
		}
		ev, err := events.Decode(msg.data)
		if err != nil {
			m.logger().Debug("dropping malformed event", "attempt", msg.a.id, "err", err)
			return false
		}
		m.opts.Sink.Deliver(ev, msg.data)
	case closedMsg:
		if msg.a != m.current {
			return false
		}
		m.logger().Info("connection closed", "addr", msg.a.addr, "attempt", msg.a.id, "err", msg.err)
		msg.a.cancel()
		m.current = nil
		m.setConnected(false)
		m.scheduleRetry()
	case retryMsg:
		if msg.r != m.retry {
			return false
		}
		m.retry = nil
		m.dial(m.addr)
	}
	return false
}

func (m *Manager) establish(addr string) {
	if m.disposed {
		return
	}
	switch m.State() {
	case StateConnecting, StateOpen:
		return
	case StateReconnectScheduled:
		if addr == m.addr {
			return
		}
		m.cancelRetry()
	}
	m.addr = addr
	m.dial(addr)
}

func (m *Manager) dial(addr string) {
	m.seq++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{id: m.seq, addr: addr, cancel: cancel}
	m.current = a
	m.setState(StateConnecting)
	go m.serve(ctx, a)
}

// serve dials and then forwards frames until the connection fails. It never
// touches manager state directly.
func (m *Manager) serve(ctx context.Context, a *attempt) {
	c, err := m.opts.Dialer.Dial(ctx, a.addr)
	if err != nil {
		m.send(closedMsg{a: a, err: err})
		return
	}
	if !m.send(openedMsg{a: a, conn: c}) {
		_ = c.Close()
		return
	}
	for {
		data, err := c.Read(ctx)
		if err != nil {
			m.send(closedMsg{a: a, err: err})
			return
		}
		if !m.send(frameMsg{a: a, data: data}) {
			return
		}
	}
}

func (m *Manager) scheduleRetry() {
	r := &retry{}
	m.retry = r
	r.timer = m.opts.Clock.AfterFunc(m.opts.ReconnectDelay, func() {
		m.send(retryMsg{r: r})
	})
	m.setState(StateReconnectScheduled)
}

func (m *Manager) cancelRetry() {
	if m.retry != nil {
		m.retry.timer.Stop()
		m.retry = nil
	}
}

func (m *Manager) dispose() {
	m.disposed = true
	m.setState(StateClosing)
	// Forget the attempt before closing it so its goroutines are ignored.
	a := m.current
	m.current = nil
	m.cancelRetry()
	if a != nil {
		a.cancel()
		if a.conn != nil {
			if err := a.conn.Close(); err != nil {
				m.logger().Debug("close connection", "attempt", a.id, "err", err)
			}
		}
	}
	m.connected.Store(false)
	m.setState(StateIdle)
}

func (m *Manager) setState(s State) {
	m.state.Store(s)
}

func (m *Manager) setConnected(v bool) {
	if m.connected.Swap(v) != v {
		m.opts.Sink.SetConnected(v)
	}
}
