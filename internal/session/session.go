// Package session runs one live view of the agent lab: a connection to the
// backend's event stream, the ledger of everything received on it, and the
// graph, output, feed and viewport state folded from that ledger.
//
// A single goroutine owns all of that state. Connection callbacks and
// interaction commands reach it as messages; readers get immutable
// snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flitsinc/agentlab/internal/conn"
	"github.com/flitsinc/agentlab/internal/eventbus"
	"github.com/flitsinc/agentlab/internal/events"
	"github.com/flitsinc/agentlab/internal/graph"
	"github.com/flitsinc/agentlab/internal/idgen"
	"github.com/flitsinc/agentlab/internal/layout"
	"github.com/flitsinc/agentlab/internal/ledger"
	"github.com/flitsinc/agentlab/internal/output"
	"github.com/flitsinc/agentlab/internal/schema"
	"github.com/flitsinc/agentlab/internal/state"
	"github.com/flitsinc/agentlab/internal/tracing"
)

var (
	ErrNotStarted = errors.New("session not started")
	ErrStopped    = errors.New("session stopped")
)

// maxBatch bounds how many queued messages are folded before publishing.
const maxBatch = 256

type Options struct {
	WSURL          string
	Dialer         conn.Dialer
	Clock          conn.Clock
	ReconnectDelay time.Duration

	// Bus, Journal and Tracer are optional.
	Bus     *eventbus.Bus
	Journal *state.Journal
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Session struct {
	opts Options
	id   string
	mgr  *conn.Manager

	inbox  chan message
	snap   atomic.Pointer[Snapshot]
	cancel context.CancelFunc
	done   chan struct{}

	// lifeMu orders Start against Stop.
	lifeMu   sync.Mutex
	stopped  bool
	started  atomic.Bool
	stopOnce sync.Once

	// Owned by the run goroutine.
	m          *model
	journalCur ledger.Cursor
	journalID  string
	feedSeq    int64
}

type message interface{ isMessage() }

type eventMsg struct{ entry ledger.Entry }
type connectedMsg struct{ connected bool }
type commandMsg struct {
	kind    string
	apply   func(m *model) changes
	applied chan struct{}
}

func (eventMsg) isMessage()     {}
func (connectedMsg) isMessage() {}
func (commandMsg) isMessage()   {}

func New(opts Options) (*Session, error) {
	if opts.WSURL == "" {
		return nil, fmt.Errorf("ws url is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = conn.WebsocketDialer{}
	}
	s := &Session{
		opts:  opts,
		id:    idgen.SessionID(),
		inbox: make(chan message, maxBatch),
		done:  make(chan struct{}),
		m:     newModel(),
	}
	mgr, err := conn.NewManager(conn.Options{
		Dialer:         opts.Dialer,
		Sink:           sink{s: s},
		Clock:          opts.Clock,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}
	s.mgr = mgr
	s.snap.Store(s.m.snapshot(s.id))
	return s, nil
}

func (s *Session) logger() *slog.Logger {
	if s.opts.Logger != nil {
		return s.opts.Logger
	}
	return slog.Default()
}

func (s *Session) tracer() trace.Tracer {
	if s.opts.Tracer != nil {
		return s.opts.Tracer
	}
	return otel.Tracer(tracerName)
}

const tracerName = "github.com/flitsinc/agentlab/internal/session"

func (s *Session) ID() string {
	return s.id
}

// JournalID is the journal session this live session records into, if any.
// It is only meaningful after Start.
func (s *Session) JournalID() string {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.journalID
}

// Start opens the journal session, starts the loop and connects. The loop
// runs until Stop is called or ctx is cancelled. A stopped session cannot be
// started.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s already started", s.id)
	}
	if s.opts.Journal != nil {
		js, err := s.opts.Journal.StartSession(ctx, s.opts.WSURL)
		if err != nil {
			s.started.Store(false)
			return fmt.Errorf("start journal: %w", err)
		}
		s.journalID = js.ID
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(loopCtx)
	s.mgr.Establish(s.opts.WSURL)
	s.logger().Info("session started", "session_id", s.id, "ws_url", s.opts.WSURL)
	return nil
}

// Stop disposes the connection and waits for the loop to exit. It is safe to
// call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.lifeMu.Lock()
		s.stopped = true
		started := s.started.Load()
		s.lifeMu.Unlock()

		s.mgr.Dispose()
		if !started {
			// The loop never ran, so nothing else will close done.
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
		if s.opts.Journal != nil && s.journalID != "" {
			if err := s.opts.Journal.EndSession(context.Background(), s.journalID); err != nil {
				s.logger().Warn("end journal session", "session_id", s.id, "err", err)
			}
		}
		s.logger().Info("session stopped", "session_id", s.id)
	})
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the state published after the last processed batch.
func (s *Session) Snapshot() *Snapshot {
	return s.snap.Load()
}

func (s *Session) Connected() bool {
	return s.Snapshot().Connected
}

func (s *Session) ConnState() conn.State {
	return s.mgr.State()
}

// Output returns a copy of one agent's retained output.
func (s *Session) Output(agentID string) ([]output.Line, bool) {
	return s.Snapshot().Output(agentID)
}

// sink adapts the session to the connection manager's callbacks.
type sink struct{ s *Session }

func (k sink) SetConnected(connected bool) {
	k.s.post(connectedMsg{connected: connected})
}

func (k sink) Deliver(ev events.Event, raw []byte) {
	k.s.post(eventMsg{entry: ledger.Entry{Event: ev, Raw: raw, ReceivedAt: time.Now().UTC()}})
}

func (s *Session) post(msg message) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and returns once its effects are published.
func (s *Session) do(ctx context.Context, kind string, fn func(m *model) changes, attrs ...attribute.KeyValue) (err error) {
	if !s.started.Load() {
		return ErrNotStarted
	}
	attrs = append(attrs, attribute.String(tracing.AttrSessionID, s.id), attribute.String(tracing.AttrCommandType, kind))
	ctx, span := s.tracer().Start(ctx, tracing.SpanCommand, trace.WithAttributes(attrs...))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	cmd := commandMsg{kind: kind, apply: fn, applied: make(chan struct{})}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.applied:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func point(x, y float64) graph.Point {
	return graph.Point{X: x, Y: y}
}

var viewChanged = changes{graph: true}

// PointerDown starts a gesture at a screen position. The hit test runs in
// world space against the current layout.
func (s *Session) PointerDown(ctx context.Context, x, y float64) error {
	return s.do(ctx, "pointer_down", func(m *model) changes {
		p := point(x, y)
		id, ok := layout.HitTest(m.graph, m.view.ScreenToWorld(p))
		var pos graph.Point
		if ok {
			n, _ := m.graph.Node(id)
			pos = n.Position
		}
		m.view.PointerDown(p, id, pos)
		return viewChanged
	})
}

func (s *Session) PointerMove(ctx context.Context, x, y float64) error {
	return s.do(ctx, "pointer_move", func(m *model) changes {
		if id, pos, moved := m.view.PointerMove(point(x, y)); moved {
			m.graph = graph.Move(m.graph, id, pos)
		}
		return viewChanged
	})
}

func (s *Session) PointerUp(ctx context.Context) error {
	return s.do(ctx, "pointer_up", func(m *model) changes {
		m.view.PointerUp()
		return viewChanged
	})
}

func (s *Session) PointerLeave(ctx context.Context) error {
	return s.do(ctx, "pointer_leave", func(m *model) changes {
		m.view.PointerLeave()
		return viewChanged
	})
}

func (s *Session) Wheel(ctx context.Context, deltaY float64) error {
	return s.do(ctx, "wheel", func(m *model) changes {
		m.view.Wheel(deltaY)
		return viewChanged
	})
}

func (s *Session) ZoomIn(ctx context.Context) error {
	return s.do(ctx, "zoom_in", func(m *model) changes {
		m.view.ZoomIn()
		return viewChanged
	})
}

func (s *Session) ZoomOut(ctx context.Context) error {
	return s.do(ctx, "zoom_out", func(m *model) changes {
		m.view.ZoomOut()
		return viewChanged
	})
}

func (s *Session) ResetView(ctx context.Context) error {
	return s.do(ctx, "reset_view", func(m *model) changes {
		m.view.Reset()
		return viewChanged
	})
}

// Select marks a node as selected; an empty id clears the selection.
func (s *Session) Select(ctx context.Context, agentID string) error {
	return s.do(ctx, "select", func(m *model) changes {
		if agentID != "" && !m.graph.Has(agentID) {
			return changes{}
		}
		m.view.Select(agentID)
		return viewChanged
	}, attribute.String(tracing.AttrAgentID, agentID))
}

type transition struct {
	connected bool
	afterSeq  int64
}

type batch struct {
	events      int
	ch          changes
	transitions []transition
	commands    []string
	applied     []chan struct{}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			var b batch
			s.handle(msg, &b)
		drain:
			for n := 1; n < maxBatch; n++ {
				select {
				case msg := <-s.inbox:
					s.handle(msg, &b)
				default:
					break drain
				}
			}
			s.flush(ctx, &b)
		}
	}
}

func (s *Session) handle(msg message, b *batch) {
	switch msg := msg.(type) {
	case eventMsg:
		s.m.append([]ledger.Entry{msg.entry})
		b.events++
	case connectedMsg:
		if s.m.connected == msg.connected {
			return
		}
		s.m.connected = msg.connected
		b.ch.status = true
		b.transitions = append(b.transitions, transition{connected: msg.connected, afterSeq: s.m.seq()})
	case commandMsg:
		// Commands see every event received before them.
		b.ch.merge(s.m.fold())
		b.ch.merge(msg.apply(s.m))
		b.commands = append(b.commands, msg.kind)
		b.applied = append(b.applied, msg.applied)
	}
}

func (s *Session) flush(ctx context.Context, b *batch) {
	ctx, span := s.tracer().Start(ctx, tracing.SpanBatch, trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, s.id),
		attribute.Int(tracing.AttrBatchSize, b.events),
		attribute.StringSlice(tracing.AttrCommandType, b.commands),
	))
	defer span.End()

	b.ch.merge(s.m.fold())
	if err := s.record(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "journal")
		s.logger().Warn("journal write failed", "session_id", s.id, "err", err)
	}

	// Events that changed nothing still advance Seq; only real changes are
	// announced on the bus.
	if b.ch.any() || b.events > 0 {
		snap := s.m.snapshot(s.id)
		s.snap.Store(snap)
		if b.ch.any() {
			s.publish(snap, b.ch)
		}
		span.SetAttributes(
			attribute.Int64(tracing.AttrLedgerSeq, snap.Seq),
			attribute.Int(tracing.AttrNodeCount, len(snap.Nodes)),
			attribute.Bool(tracing.AttrConnected, snap.Connected),
		)
	}
	for _, c := range b.applied {
		close(c)
	}
}

// record appends unjournaled ledger entries and connectivity changes.
func (s *Session) record(ctx context.Context, b *batch) error {
	j := s.opts.Journal
	if j == nil || s.journalID == "" {
		return nil
	}
	// The cursor only moves once the rows are committed, so a failed write
	// is retried with the next batch.
	pending := s.journalCur.Pending(s.m.ledger)
	var errs []error
	if len(pending) > 0 {
		_, span := s.tracer().Start(ctx, tracing.SpanJournal, trace.WithAttributes(attribute.Int(tracing.AttrBatchSize, len(pending))))
		if err := j.Append(ctx, s.journalID, pending); err != nil {
			span.RecordError(err)
			errs = append(errs, err)
		} else {
			s.journalCur.Advance(len(pending))
		}
		span.End()
	}
	for _, t := range b.transitions {
		if err := j.RecordConnectivity(ctx, s.journalID, t.connected, t.afterSeq); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) publish(snap *Snapshot, ch changes) {
	bus := s.opts.Bus
	if bus == nil {
		return
	}
	var errs []error
	pub := func(in eventbus.NoticeInput) {
		in.Seq = snap.Seq
		if _, err := bus.Publish(in); err != nil {
			errs = append(errs, err)
		}
	}

	if ch.status {
		subject := "disconnected"
		if snap.Connected {
			subject = "connected"
		}
		pub(eventbus.NoticeInput{Stream: schema.StreamStatus, Subject: subject, Payload: map[string]any{"connected": snap.Connected}})
	}
	if ch.graph {
		pub(eventbus.NoticeInput{Stream: schema.StreamGraph, Payload: snap})
	}
	if len(ch.outputFor) > 0 {
		ids := make([]string, 0, len(ch.outputFor))
		for id := range ch.outputFor {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			lines, _ := snap.Output(id)
			pub(eventbus.NoticeInput{Stream: schema.StreamOutput, Subject: id, Payload: map[string]any{"agent_id": id, "lines": lines}})
		}
	}
	if ch.feed {
		var fresh []any
		for _, e := range snap.feed {
			if e.Seq > s.feedSeq {
				fresh = append(fresh, e)
			}
		}
		if len(fresh) > 0 {
			s.feedSeq = snap.feed[len(snap.feed)-1].Seq
			pub(eventbus.NoticeInput{Stream: schema.StreamFeed, Payload: fresh})
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger().Warn("publish notices", "session_id", s.id, "err", err)
	}
}

// Replay folds journaled entries through the same consumers a live session
// uses and returns the resulting state. Nothing is connected or published.
func Replay(ctx context.Context, sessionID string, entries []ledger.Entry) *Snapshot {
	_, span := otel.Tracer(tracerName).Start(ctx, tracing.SpanReplay, trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, sessionID),
		attribute.Int(tracing.AttrBatchSize, len(entries)),
	))
	defer span.End()
	m := newModel()
	m.append(entries)
	m.fold()
	return m.snapshot(sessionID)
}
