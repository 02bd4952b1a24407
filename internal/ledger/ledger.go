// Package ledger holds the append-only record of received events and the
// cursors consumers use to fold it exactly once.
package ledger

import (
	"time"

	"github.com/flitsinc/agentlab/internal/events"
)

type Entry struct {
	Seq        int64
	Event      events.Event
	Raw        []byte
	ReceivedAt time.Time
}

// Ledger is not safe for concurrent use; the session loop owns it.
type Ledger struct {
	entries []Entry
}

func New() *Ledger {
	return &Ledger{}
}

// Append records events in arrival order. No deduplication happens here.
func (l *Ledger) Append(entries ...Entry) {
	for _, e := range entries {
		e.Seq = int64(len(l.entries) + 1)
		l.entries = append(l.entries, e)
	}
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

// Since returns the entries from position pos onwards. The slice aliases the
// ledger and must not be modified.
func (l *Ledger) Since(pos int) []Entry {
	if pos < 0 {
		pos = 0
	}
	if pos >= len(l.entries) {
		return nil
	}
	return l.entries[pos:len(l.entries):len(l.entries)]
}

// Cursor is the number of entries a consumer has already folded.
type Cursor struct {
	pos int
}

func (c *Cursor) Pos() int {
	return c.pos
}

// Drain hands every unseen entry to fn in order and advances the cursor to
// the end of the ledger. Calling it again without new appends does nothing.
func (c *Cursor) Drain(l *Ledger, fn func(Entry)) int {
	pending := l.Since(c.pos)
	for _, e := range pending {
		fn(e)
	}
	c.pos = l.Len()
	return len(pending)
}

// Pending returns the entries the cursor has not consumed without moving it.
// Pair it with Advance when consuming can fail.
func (c *Cursor) Pending(l *Ledger) []Entry {
	return l.Since(c.pos)
}

// Advance marks n more entries as consumed.
func (c *Cursor) Advance(n int) {
	c.pos += n
}
