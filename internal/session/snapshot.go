package session

import (
	"slices"
	"time"

	"github.com/flitsinc/agentlab/internal/feed"
	"github.com/flitsinc/agentlab/internal/graph"
	"github.com/flitsinc/agentlab/internal/output"
	"github.com/flitsinc/agentlab/internal/viewport"
)

// Snapshot is an immutable view of a session after one processed batch.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Connected bool           `json:"connected"`
	Nodes     []graph.Node   `json:"nodes"`
	Edges     []graph.Edge   `json:"edges"`
	View      viewport.State `json:"view"`
	UpdatedAt time.Time      `json:"updated_at"`

	feed   []feed.Entry
	output map[string][]output.Line
	graph  graph.Graph
}

func (s *Snapshot) Graph() graph.Graph {
	return s.graph
}

func (s *Snapshot) Node(id string) (graph.Node, bool) {
	return s.graph.Node(id)
}

// Feed returns a copy of the newest limit feed entries (all when limit <= 0).
func (s *Snapshot) Feed(limit int) []feed.Entry {
	src := s.feed
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	return slices.Clone(src)
}

// Output returns a copy of an agent's retained output, oldest first.
func (s *Snapshot) Output(agentID string) ([]output.Line, bool) {
	lines, ok := s.output[agentID]
	if !ok {
		return nil, false
	}
	return slices.Clone(lines), true
}

// OutputAgents lists the agents with retained output, sorted.
func (s *Snapshot) OutputAgents() []string {
	ids := make([]string, 0, len(s.output))
	for id := range s.output {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
