package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flitsinc/agentlab/internal/conn"
)

// FakeDialer hands out FakeConns in dial order.
type FakeDialer struct {
	mu    sync.Mutex
	conns []*FakeConn
	addrs []string
	fail  int
}

// FailNext makes the next n dials return an error.
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *FakeDialer) Dial(ctx context.Context, addr string) (conn.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	if d.fail > 0 {
		d.fail--
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}
	c := NewFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials counts every dial, failed ones included.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addrs)
}

func (d *FakeDialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

// Conn returns the i-th successfully dialed connection, or nil.
func (d *FakeDialer) Conn(i int) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *FakeDialer) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type FakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewFakeConn() *FakeConn {
	return &FakeConn{frames: make(chan []byte, 256), closed: make(chan struct{})}
}

// Push queues a frame as if the server had sent it.
func (c *FakeConn) Push(frame []byte) {
	c.frames <- frame
}

// Read drains queued frames before reporting a close.
func (c *FakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drop closes the connection from the server side.
func (c *FakeConn) Drop() {
	_ = c.Close()
}

func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *FakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FakeClock runs timers only when told to.
type FakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) conn.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return &lockedTimer{clock: c, t: t}
}

type lockedTimer struct {
	clock *FakeClock
	t     *fakeTimer
}

func (l *lockedTimer) Stop() bool {
	l.clock.mu.Lock()
	defer l.clock.mu.Unlock()
	return l.t.Stop()
}

// Pending counts timers that were neither stopped nor fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// LastDelay is the duration of the most recently scheduled timer.
func (c *FakeClock) LastDelay() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return 0, errors.New("no timers scheduled")
	}
	return c.timers[len(c.timers)-1].d, nil
}

// Fire runs every pending timer and reports how many ran.
func (c *FakeClock) Fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// FireAll runs every timer ever scheduled, including stopped ones, the way a
// timer that raced its Stop would.
func (c *FakeClock) FireAll() {
	c.mu.Lock()
	all := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}
