package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/flitsinc/agentlab/internal/eventbus"
	"github.com/flitsinc/agentlab/internal/schema"
)

type fakeWSConn struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	pingErr  error
}

func (f *fakeWSConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeWSConn) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeWSConn) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.messages...)
}

func (f *fakeWSConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func wsURLFor(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWSStreamSendsHelloThenNotices(t *testing.T) {
	bus := eventbus.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &wsStream{
		bus:     bus,
		streams: []string{schema.StreamFeed},
		hello:   wsHello{Type: "hello", SessionID: "s1", Seq: 7, Streams: []string{schema.StreamFeed}},
	}
	conn := &fakeWSConn{}
	go func() { _ = st.run(ctx, conn) }()
	waitFor(t, "subscriber", func() bool { return bus.SubscriberCount() == 1 })

	if _, err := bus.Publish(eventbus.NoticeInput{Stream: schema.StreamGraph, Seq: 8}); err != nil {
		t.Fatalf("publish graph: %v", err)
	}
	if _, err := bus.Publish(eventbus.NoticeInput{Stream: schema.StreamFeed, Seq: 8, Subject: "PLAN"}); err != nil {
		t.Fatalf("publish feed: %v", err)
	}
	waitFor(t, "feed frame", func() bool { return len(conn.frames()) >= 2 })

	frames := conn.frames()
	var hello wsHello
	if err := json.Unmarshal(frames[0], &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.Type != "hello" || hello.SessionID != "s1" || hello.Seq != 7 {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	var n eventbus.Notice
	if err := json.Unmarshal(frames[1], &n); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if n.Stream != schema.StreamFeed || n.Subject != "PLAN" {
		t.Fatalf("unexpected notice: %+v", n)
	}
	if len(frames) != 2 {
		t.Fatalf("graph notice leaked into a feed-only stream: %d frames", len(frames))
	}
}

func TestWSStreamEndsWhenSessionStops(t *testing.T) {
	done := make(chan struct{})
	st := &wsStream{bus: eventbus.NewBus(), sessionDone: done, hello: wsHello{Type: "hello"}}
	result := make(chan error, 1)
	go func() { result <- st.run(context.Background(), &fakeWSConn{}) }()

	close(done)
	select {
	case err := <-result:
		if !errors.Is(err, errSessionStopped) {
			t.Fatalf("expected errSessionStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end after session stop")
	}
}

func TestWSStreamPingFailureEndsStream(t *testing.T) {
	conn := &fakeWSConn{}
	st := &wsStream{bus: eventbus.NewBus(), hello: wsHello{Type: "hello"}, pingInterval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- st.run(ctx, conn) }()

	waitFor(t, "pings", func() bool { return conn.pingCount() >= 2 })
	conn.mu.Lock()
	conn.pingErr = errors.New("peer gone")
	conn.mu.Unlock()

	select {
	case err := <-result:
		if err == nil || err.Error() != "peer gone" {
			t.Fatalf("expected ping error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream survived a failed ping")
	}
}

func TestStreamWSEndpoint(t *testing.T) {
	bus := eventbus.NewBus()
	if _, err := bus.Publish(eventbus.NoticeInput{Stream: schema.StreamStatus, Subject: "connected"}); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	srv := httptest.NewServer((&Server{Bus: bus}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURLFor(srv, "/api/streams/ws?streams=status,bogus"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello wsHello
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.Type != "hello" || hello.SessionID != "" || len(hello.Streams) != 1 || hello.Streams[0] != schema.StreamStatus {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	_, data, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n eventbus.Notice
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if n.Stream != schema.StreamStatus || n.Subject != "connected" {
		t.Fatalf("expected replayed status notice, got %+v", n)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func TestStreamWSClosesWhenSessionStops(t *testing.T) {
	f := newAPIFixture(t)
	f.push(t, `{"agent_id":"fe","type":"spawn","domain":"frontend"}`)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURLFor(srv, "/api/streams/ws?streams=graph"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello wsHello
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.SessionID != f.session.ID() || hello.Seq != 1 || !hello.Connected {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	f.session.Stop()
	for {
		if _, _, err = c.Read(ctx); err != nil {
			break
		}
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away close, got %v (%v)", status, err)
	}
}
