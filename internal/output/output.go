// Package output keeps the most recent lines each agent produced.
package output

import (
	"time"

	"github.com/flitsinc/agentlab/internal/events"
)

// Capacity is the number of lines retained per agent.
const Capacity = 50

type Line struct {
	Kind      events.Kind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
}

// ring is a fixed-capacity FIFO; the oldest line is overwritten first.
type ring struct {
	buf   []Line
	start int
	n     int
}

func (r *ring) push(l Line) {
	if r.buf == nil {
		r.buf = make([]Line, Capacity)
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = l
		r.n++
		return
	}
	r.buf[r.start] = l
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) lines() []Line {
	out := make([]Line, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Aggregator is owned by a single goroutine.
type Aggregator struct {
	logs map[string]*ring
}

func NewAggregator() *Aggregator {
	return &Aggregator{logs: map[string]*ring{}}
}

// Apply records textual events and reports whether a line was added. Other
// kinds are ignored, as are events that address the coordinator; those belong
// to the narrative feed.
func (a *Aggregator) Apply(ev events.Event) bool {
	p, ok := ev.Payload.(events.Text)
	if !ok || events.IsCoordinator(ev.AgentID) {
		return false
	}
	r := a.logs[ev.AgentID]
	if r == nil {
		r = &ring{}
		a.logs[ev.AgentID] = r
	}
	r.push(Line{Kind: p.Kind, Text: p.Text, Timestamp: ev.Timestamp})
	return true
}

// Lines returns a copy of an agent's log, oldest first.
func (a *Aggregator) Lines(agentID string) []Line {
	r := a.logs[agentID]
	if r == nil {
		return nil
	}
	return r.lines()
}

// Count is the number of lines retained for an agent.
func (a *Aggregator) Count(agentID string) int {
	if r := a.logs[agentID]; r != nil {
		return r.n
	}
	return 0
}

// Snapshot copies every log.
func (a *Aggregator) Snapshot() map[string][]Line {
	out := make(map[string][]Line, len(a.logs))
	for id, r := range a.logs {
		out[id] = r.lines()
	}
	return out
}
