// Package graph folds agent lifecycle events into the node set drawn on the
// lab canvas.
//
// Apply is a pure function: the Graph passed in is never modified, and a
// Graph value can be shared with readers once it has been published.
package graph

import (
	"slices"
	"unicode/utf8"

	"github.com/flitsinc/agentlab/internal/events"
)

const (
	SpawnProgress = 5
	TextStep      = 2
	// TextCap is the ceiling for output-driven progress; only done reaches 100.
	TextCap      = 95
	DoneProgress = 100

	// CharsPerToken approximates token usage from output length. It is not a
	// tokenizer and the resulting counts are not exact.
	CharsPerToken = 4
)

type Graph struct {
	nodes map[string]Node
	order []string
}

func New() Graph {
	return Graph{nodes: map[string]Node{}}
}

func (g Graph) Len() int {
	return len(g.order)
}

func (g Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns the nodes in insertion order.
func (g Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Parents returns the parent-role nodes in insertion order.
func (g Graph) Parents() []Node {
	var out []Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Role == RoleParent {
			out = append(out, n)
		}
	}
	return out
}

// Edges derives the supervision edges from node membership: one edge from
// the coordinator to every parent node, nothing else.
func (g Graph) Edges() []Edge {
	if !g.Has(events.CoordinatorID) {
		return nil
	}
	var out []Edge
	for _, n := range g.Parents() {
		out = append(out, Edge{From: events.CoordinatorID, To: n.ID})
	}
	return out
}

// Move places a node at pos and pins it there so auto-layout leaves it alone.
func Move(g Graph, id string, pos Point) Graph {
	n, ok := g.nodes[id]
	if !ok {
		return g
	}
	n.Position = pos
	n.Pinned = true
	next := g.clone()
	next.put(n)
	return next
}

// Place writes positions without pinning. Unknown ids are ignored.
func Place(g Graph, positions map[string]Point) Graph {
	var next Graph
	changed := false
	for id, pos := range positions {
		n, ok := g.nodes[id]
		if !ok || n.Position == pos {
			continue
		}
		if !changed {
			next = g.clone()
			changed = true
		}
		n.Position = pos
		next.put(n)
	}
	if !changed {
		return g
	}
	return next
}

// Apply folds one event into the graph. It is total: unknown kinds,
// coordinator-addressed events and events for agents that were never
// spawned leave the graph unchanged.
func Apply(g Graph, ev events.Event) Graph {
	if g.nodes == nil {
		g = New()
	}
	if spawn, ok := ev.Payload.(events.Spawn); ok {
		return applySpawn(g, ev.AgentID, spawn)
	}
	if events.IsCoordinator(ev.AgentID) {
		return g
	}
	n, ok := g.nodes[ev.AgentID]
	if !ok {
		return g
	}

	switch p := ev.Payload.(type) {
	case events.Status:
		n.Status = DisplayStatusFor(p.Status)
		if p.Branch != "" {
			n.Branch = p.Branch
		}
		if p.Worktree != "" {
			n.Worktree = p.Worktree
		}
	case events.Text:
		if n.Progress != nil && *n.Progress < TextCap {
			n.Progress = intPtr(min(*n.Progress+TextStep, TextCap))
		}
		n.Tokens += approxTokens(p.Text)
	case events.Done:
		n.Status = StatusDone
		n.Progress = intPtr(DoneProgress)
		n.Validation = &Validation{Level: 1, Status: "pass"}
	case events.Error:
		n.Status = StatusBlocked
		n.Task = p.Text
	case events.Unknown:
		return g
	default:
		return g
	}

	next := g.clone()
	next.put(n)
	return next
}

func applySpawn(g Graph, agentID string, p events.Spawn) Graph {
	hasCoordinator := g.Has(events.CoordinatorID)
	known := events.IsCoordinator(agentID) || g.Has(agentID)
	if hasCoordinator && known {
		return g
	}
	next := g.clone()
	if !hasCoordinator {
		next.put(coordinatorNode())
	}
	if known {
		return next
	}

	label := p.Label
	if label == "" {
		label = agentID
	}
	next.put(Node{
		ID:       agentID,
		Role:     RoleParent,
		Label:    label,
		Subtitle: p.Domain,
		Status:   StatusActive,
		Progress: intPtr(SpawnProgress),
		Children: []string{},
		Branch:   BranchFor(agentID),
		Worktree: WorktreeFor(agentID),
		Skills:   []string{},
	})

	coord := next.nodes[events.CoordinatorID]
	if !slices.Contains(coord.Children, agentID) {
		coord.Children = append(slices.Clone(coord.Children), agentID)
		next.put(coord)
	}
	return next
}

func coordinatorNode() Node {
	return Node{
		ID:       events.CoordinatorID,
		Role:     RoleCoordinator,
		Label:    "Orchestrator",
		Subtitle: "coordination",
		Status:   StatusActive,
		Children: []string{},
		Skills:   []string{},
	}
}

// BranchFor is the git branch the backend creates for an agent.
func BranchFor(agentID string) string {
	return "agent/" + agentID
}

// WorktreeFor is the worktree directory relative to the project root.
func WorktreeFor(agentID string) string {
	return ".worktrees/" + agentID
}

func approxTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

func (g Graph) clone() Graph {
	nodes := make(map[string]Node, len(g.nodes)+1)
	for id, n := range g.nodes {
		nodes[id] = n
	}
	return Graph{nodes: nodes, order: slices.Clip(g.order)}
}

// put must only be called on a freshly cloned graph.
func (g *Graph) put(n Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}
