package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/agentlab/internal/api"
	"github.com/flitsinc/agentlab/internal/conn"
	"github.com/flitsinc/agentlab/internal/eventbus"
	"github.com/flitsinc/agentlab/internal/graph"
	"github.com/flitsinc/agentlab/internal/schema"
	"github.com/flitsinc/agentlab/internal/session"
	"github.com/flitsinc/agentlab/internal/testutil"
)

// backend stands in for the orchestrator's event stream. Every accepted
// connection is handed to the test, which scripts frames and closes it.
type backend struct {
	conns chan *websocket.Conn
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := c.CloseRead(r.Context())
	b.conns <- c
	<-ctx.Done()
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func send(t *testing.T, c *websocket.Conn, frames ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, f := range frames {
		if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

func accept(t *testing.T, b *backend) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for session to dial")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionOverWebsocket(t *testing.T) {
	b := &backend{conns: make(chan *websocket.Conn, 4)}
	upstream := httptest.NewServer(b)
	defer upstream.Close()

	journal := testutil.OpenTestJournal(t)
	bus := eventbus.NewBus()

	sess, err := session.New(session.Options{
		WSURL:          wsURL(upstream, "/ws"),
		Dialer:         conn.WebsocketDialer{},
		ReconnectDelay: 50 * time.Millisecond,
		Bus:            bus,
		Journal:        journal,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	defer sess.Stop()

	dashboard := httptest.NewServer((&api.Server{Session: sess, Bus: bus, Journal: journal}).Handler())
	defer dashboard.Close()

	first := accept(t, b)
	waitFor(t, "connected", sess.Connected)
	send(t, first,
		`{"agent_id":"fe","type":"spawn","domain":"frontend","project_id":"p1"}`,
		`not json`,
		`{"agent_id":"fe","type":"output","text":"rendering cart"}`,
	)
	waitFor(t, "two events", func() bool { return sess.Snapshot().Seq == 2 })

	// A renderer subscribed to the graph stream starts from current state.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	viewer, _, err := websocket.Dial(ctx, wsURL(dashboard, "/api/streams/ws?streams=graph"), nil)
	if err != nil {
		t.Fatalf("dial dashboard stream: %v", err)
	}
	defer viewer.CloseNow()
	_, data, err := viewer.Read(ctx)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Seq       int64  `json:"seq"`
	}
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.Type != "hello" || hello.SessionID != sess.ID() || hello.Seq != 2 {
		t.Fatalf("unexpected hello frame: %+v", hello)
	}
	var notice struct {
		Stream  string `json:"stream"`
		Seq     int64  `json:"seq"`
		Payload struct {
			Nodes []graph.Node `json:"nodes"`
		} `json:"payload"`
	}
	// The latest graph notice may still be in flight, so an older one can
	// arrive first.
	for notice.Seq < 2 {
		_, data, err := viewer.Read(ctx)
		if err != nil {
			t.Fatalf("read graph notice: %v", err)
		}
		if err := json.Unmarshal(data, &notice); err != nil {
			t.Fatalf("decode graph notice: %v", err)
		}
		if notice.Stream != schema.StreamGraph {
			t.Fatalf("unexpected stream %q", notice.Stream)
		}
	}
	if len(notice.Payload.Nodes) != 2 {
		t.Fatalf("expected coordinator and fe in graph notice, got %d nodes", len(notice.Payload.Nodes))
	}

	// Drop the upstream connection; the session reconnects on its own.
	_ = first.Close(websocket.StatusGoingAway, "backend restart")
	second := accept(t, b)
	waitFor(t, "reconnected", sess.Connected)
	send(t, second, `{"agent_id":"fe","type":"done","text":"cart shipped"}`)
	waitFor(t, "done event", func() bool { return sess.Snapshot().Seq == 3 })

	fe, ok := sess.Snapshot().Node("fe")
	if !ok {
		t.Fatalf("fe missing after reconnect")
	}
	if fe.Status != graph.StatusDone || fe.ProgressValue() != 100 {
		t.Fatalf("unexpected fe after reconnect: %+v", fe)
	}
	if lines, _ := sess.Output("fe"); len(lines) != 1 {
		t.Fatalf("expected output to survive reconnect, got %d lines", len(lines))
	}

	transitions, err := journal.Connectivity(context.Background(), sess.JournalID())
	if err != nil {
		t.Fatalf("connectivity: %v", err)
	}
	var flips []bool
	for _, tr := range transitions {
		flips = append(flips, tr.Connected)
	}
	if len(flips) != 3 || !flips[0] || flips[1] || !flips[2] {
		t.Fatalf("expected connected, disconnected, connected; got %v", flips)
	}
	if transitions[1].AfterSeq != 2 {
		t.Fatalf("expected disconnect after seq 2, got %d", transitions[1].AfterSeq)
	}

	sess.Stop()
	recorded, err := journal.Session(context.Background(), sess.JournalID())
	if err != nil {
		t.Fatalf("journal session: %v", err)
	}
	if recorded.EndedAt == nil || recorded.Events != 3 {
		t.Fatalf("unexpected journaled session: %+v", recorded)
	}
}
