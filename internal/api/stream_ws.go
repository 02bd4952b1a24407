package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flitsinc/agentlab/internal/eventbus"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)

var errSessionStopped = errors.New("session stopped")

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
}

// wsHello is the first frame on every stream socket. It tells the renderer
// which session the notices belong to and how far that session has folded,
// so a notice with a lower seq can be recognised as stale.
type wsHello struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Seq       int64    `json:"seq"`
	Connected bool     `json:"connected"`
	Streams   []string `json:"streams"`
}

// wsStream forwards bus notices to one socket until the peer leaves or the
// session stops.
type wsStream struct {
	bus          *eventbus.Bus
	streams      []string
	hello        wsHello
	sessionDone  <-chan struct{}
	pingInterval time.Duration
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}

	st := &wsStream{
		bus:          s.Bus,
		streams:      eventbus.ParseStreams(r.URL.Query().Get("streams")),
		pingInterval: wsPingInterval,
	}
	st.hello = wsHello{Type: "hello", Streams: st.streams}
	if s.Session != nil {
		snap := s.Session.Snapshot()
		st.hello.SessionID = s.Session.ID()
		st.hello.Seq = snap.Seq
		st.hello.Connected = snap.Connected
		st.sessionDone = s.Session.Done()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	// The renderer never writes; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	err = st.run(ctx, conn)
	switch {
	case errors.Is(err, errSessionStopped):
		_ = conn.Close(websocket.StatusGoingAway, "session stopped")
	case err == nil || ctx.Err() != nil:
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	default:
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (st *wsStream) run(ctx context.Context, conn wsConn) error {
	sub := st.bus.Subscribe(ctx, st.streams)
	if err := writeFrame(ctx, conn, st.hello); err != nil {
		return err
	}

	var ping <-chan time.Time
	if st.pingInterval > 0 {
		ticker := time.NewTicker(st.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-st.sessionDone:
			return errSessionStopped
		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case n, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeFrame(ctx, conn, n); err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn wsConn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
