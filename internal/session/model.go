package session

import (
	"time"

	"github.com/flitsinc/agentlab/internal/feed"
	"github.com/flitsinc/agentlab/internal/graph"
	"github.com/flitsinc/agentlab/internal/layout"
	"github.com/flitsinc/agentlab/internal/ledger"
	"github.com/flitsinc/agentlab/internal/output"
	"github.com/flitsinc/agentlab/internal/viewport"
)

// model is everything derived from one ledger. Each consumer advances its own
// cursor, so an entry is folded exactly once no matter how often fold runs.
type model struct {
	ledger *ledger.Ledger

	graphCur  ledger.Cursor
	outputCur ledger.Cursor
	feedCur   ledger.Cursor

	graph  graph.Graph
	output *output.Aggregator
	feed   *feed.Feed
	view   *viewport.Controller
	// spawnedAt is the ledger seq at which each node first appeared.
	spawnedAt map[string]int64

	connected bool
}

func newModel() *model {
	return &model{
		ledger:    ledger.New(),
		graph:     graph.New(),
		output:    output.NewAggregator(),
		feed:      feed.New(),
		view:      viewport.NewController(),
		spawnedAt: map[string]int64{},
	}
}

// changes records which published streams a fold touched.
type changes struct {
	graph     bool
	feed      bool
	status    bool
	outputFor map[string]struct{}
}

func (c changes) any() bool {
	return c.graph || c.feed || c.status || len(c.outputFor) > 0
}

func (c *changes) merge(o changes) {
	c.graph = c.graph || o.graph
	c.feed = c.feed || o.feed
	c.status = c.status || o.status
	for id := range o.outputFor {
		if c.outputFor == nil {
			c.outputFor = map[string]struct{}{}
		}
		c.outputFor[id] = struct{}{}
	}
}

// fold runs every consumer over the entries it has not seen yet and then
// lays the graph out again.
func (m *model) fold() changes {
	var ch changes

	before := m.graph
	m.graphCur.Drain(m.ledger, func(e ledger.Entry) {
		m.graph = graph.Apply(m.graph, e.Event)
		id := e.Event.AgentID
		if _, seen := m.spawnedAt[id]; !seen && m.graph.Has(id) {
			m.spawnedAt[id] = e.Seq
		}
	})

	// Output for an agent that was not spawned yet at that point in the
	// ledger is dropped, however the entries were batched.
	m.outputCur.Drain(m.ledger, func(e ledger.Entry) {
		if at, ok := m.spawnedAt[e.Event.AgentID]; !ok || at > e.Seq {
			return
		}
		if m.output.Apply(e.Event) {
			if ch.outputFor == nil {
				ch.outputFor = map[string]struct{}{}
			}
			ch.outputFor[e.Event.AgentID] = struct{}{}
		}
	})

	m.feedCur.Drain(m.ledger, func(e ledger.Entry) {
		if m.feed.Apply(e.Seq, e.Event) {
			ch.feed = true
		}
	})

	m.graph = layout.Assign(m.graph)
	ch.graph = !sameGraph(before, m.graph)
	return ch
}

func (m *model) append(entries []ledger.Entry) {
	m.ledger.Append(entries...)
}

func (m *model) seq() int64 {
	return int64(m.ledger.Len())
}

func (m *model) snapshot(sessionID string) *Snapshot {
	edges := m.graph.Edges()
	if edges == nil {
		edges = []graph.Edge{}
	}
	return &Snapshot{
		SessionID: sessionID,
		Seq:       m.seq(),
		Connected: m.connected,
		Nodes:     m.graph.Nodes(),
		Edges:     edges,
		View:      m.view.State(),
		UpdatedAt: time.Now().UTC(),
		feed:      m.feed.Entries(0),
		output:    m.output.Snapshot(),
		graph:     m.graph,
	}
}

// sameGraph compares node values; the reducer returns the same value when an
// event changes nothing, but a clone with equal content counts as unchanged.
func sameGraph(a, b graph.Graph) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, n := range b.Nodes() {
		o, ok := a.Node(n.ID)
		if !ok || !sameNode(o, n) {
			return false
		}
	}
	return true
}

func sameNode(a, b graph.Node) bool {
	if a.Position != b.Position || a.Status != b.Status || a.Tokens != b.Tokens ||
		a.ProgressValue() != b.ProgressValue() || a.Task != b.Task || a.Branch != b.Branch ||
		a.Worktree != b.Worktree || a.Pinned != b.Pinned || len(a.Children) != len(b.Children) {
		return false
	}
	if (a.Validation == nil) != (b.Validation == nil) {
		return false
	}
	return a.Validation == nil || *a.Validation == *b.Validation
}
