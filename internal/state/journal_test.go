package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flitsinc/agentlab/internal/events"
	"github.com/flitsinc/agentlab/internal/ledger"
	"github.com/flitsinc/agentlab/internal/state"
	"github.com/flitsinc/agentlab/internal/testutil"
)

func entry(t *testing.T, seq int64, raw string) ledger.Entry {
	t.Helper()
	ev, err := events.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return ledger.Entry{Seq: seq, Event: ev, Raw: []byte(raw), ReceivedAt: time.Now()}
}

func TestJournalRoundTrip(t *testing.T) {
	j := testutil.OpenTestJournal(t)
	ctx := context.Background()

	sess, err := j.StartSession(ctx, "ws://localhost:8000/ws")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	batch := []ledger.Entry{
		entry(t, 1, `{"agent_id":"be","type":"spawn","domain":"backend"}`),
		entry(t, 2, `{"agent_id":"be","type":"output","text":"hello"}`),
	}
	if err := j.Append(ctx, sess.ID, batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, sess.ID, []ledger.Entry{entry(t, 3, `{"agent_id":"be","type":"done"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := j.Entries(ctx, sess.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
	}
	if got[1].Event.Text() != "hello" || got[2].Event.Kind != events.KindDone {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestJournalRejectsDuplicateSeq(t *testing.T) {
	j := testutil.OpenTestJournal(t)
	ctx := context.Background()
	sess, err := j.StartSession(ctx, "ws://x")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	e := entry(t, 1, `{"agent_id":"be","type":"output","text":"a"}`)
	if err := j.Append(ctx, sess.ID, []ledger.Entry{e}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, sess.ID, []ledger.Entry{e}); err == nil {
		t.Fatalf("expected duplicate seq to fail")
	}
}

func TestJournalSessions(t *testing.T) {
	j := testutil.OpenTestJournal(t)
	ctx := context.Background()

	first, err := j.StartSession(ctx, "ws://a")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	second, err := j.StartSession(ctx, "ws://b")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := j.Append(ctx, first.ID, []ledger.Entry{entry(t, 1, `{"agent_id":"be","type":"done"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.EndSession(ctx, first.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if err := j.EndSession(ctx, first.ID); err != nil {
		t.Fatalf("ending twice should be a no-op: %v", err)
	}

	list, err := j.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest session first, got %+v", list)
	}
	if list[1].Events != 1 || list[1].EndedAt == nil {
		t.Fatalf("expected ended session with one event, got %+v", list[1])
	}

	_, err = j.Session(ctx, "missing")
	if !errors.Is(err, state.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := j.EndSession(ctx, "missing"); !errors.Is(err, state.ErrSessionNotFound) {
		t.Fatalf("expected not found ending missing session, got %v", err)
	}
}

func TestJournalConnectivity(t *testing.T) {
	j := testutil.OpenTestJournal(t)
	ctx := context.Background()
	sess, err := j.StartSession(ctx, "ws://x")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	for _, tr := range []struct {
		connected bool
		seq       int64
	}{{true, 0}, {false, 12}, {true, 12}} {
		if err := j.RecordConnectivity(ctx, sess.ID, tr.connected, tr.seq); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := j.Connectivity(ctx, sess.ID)
	if err != nil {
		t.Fatalf("connectivity: %v", err)
	}
	if len(got) != 3 || got[0].Connected != true || got[1].Connected || got[1].AfterSeq != 12 {
		t.Fatalf("unexpected transitions: %+v", got)
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := state.Open(state.MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := state.NewJournal(db).StartSession(context.Background(), "ws://x"); err != nil {
		t.Fatalf("start session in memory: %v", err)
	}
}
