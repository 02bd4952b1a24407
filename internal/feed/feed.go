// Package feed builds the narrative shown next to the canvas: what the
// coordinator said, and when agents started, finished or failed.
package feed

import (
	"strings"
	"time"

	"github.com/flitsinc/agentlab/internal/events"
)

// Capacity bounds the feed; older entries are dropped first.
const Capacity = 500

type Role string

const (
	RoleCoordinator Role = "orch"
	RoleAgent       Role = "agent"
)

type Entry struct {
	Seq       int64       `json:"seq"`
	Role      Role        `json:"role"`
	AgentID   string      `json:"agent_id"`
	Kind      events.Kind `json:"kind"`
	Label     string      `json:"label"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
}

type Feed struct {
	entries []Entry
}

func New() *Feed {
	return &Feed{}
}

// Apply appends an entry for events worth narrating and reports whether it
// did.
func (f *Feed) Apply(seq int64, ev events.Event) bool {
	entry, ok := narrate(ev)
	if !ok {
		return false
	}
	entry.Seq = seq
	entry.Timestamp = ev.Timestamp
	f.entries = append(f.entries, entry)
	if over := len(f.entries) - Capacity; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
	return true
}

func (f *Feed) Len() int {
	return len(f.entries)
}

// Entries returns a copy of the most recent limit entries (all when limit <= 0).
func (f *Feed) Entries(limit int) []Entry {
	src := f.entries
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

func narrate(ev events.Event) (Entry, bool) {
	text := ev.Text()
	if events.IsCoordinator(ev.AgentID) {
		if strings.TrimSpace(text) == "" {
			return Entry{}, false
		}
		return Entry{
			Role:    RoleCoordinator,
			AgentID: ev.AgentID,
			Kind:    ev.Kind,
			Label:   coordinatorLabel(text),
			Text:    text,
		}, true
	}

	switch p := ev.Payload.(type) {
	case events.Spawn:
		label := p.Label
		if label == "" {
			label = ev.AgentID
		}
		text = "Spawned " + label
		if p.Domain != "" {
			text += " (" + p.Domain + ")"
		}
	case events.Done:
		if text == "" {
			text = "Completed"
		}
	case events.Error:
	default:
		return Entry{}, false
	}
	return Entry{
		Role:    RoleAgent,
		AgentID: ev.AgentID,
		Kind:    ev.Kind,
		Label:   strings.ToUpper(ev.AgentID),
		Text:    text,
	}, true
}

func coordinatorLabel(text string) string {
	switch {
	case strings.HasPrefix(text, "DAG decomposed:"):
		return "PLAN"
	case strings.HasPrefix(text, "Contract written:"):
		return "CONTRACT"
	case strings.HasPrefix(text, "Global memory updated:"):
		return "MEMORY"
	case strings.HasPrefix(text, "Error:"):
		return "ERROR"
	default:
		return "ORCHESTRATOR"
	}
}
