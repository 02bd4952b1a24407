// Package layout places nodes on the canvas. Placement depends only on the
// ordered set of node ids, so the same graph always lays out the same way.
package layout

import "github.com/flitsinc/agentlab/internal/graph"

var Anchor = graph.Point{X: 420, Y: 100}

const (
	RowOffset = 240
	Spacing   = 280

	NodeWidth  = 240
	NodeHeight = 140
)

// Positions computes the auto-placed slot for the coordinator and every
// parent node. Child and security nodes get no slot.
func Positions(g graph.Graph) map[string]graph.Point {
	out := map[string]graph.Point{}
	var parents []string
	for _, n := range g.Nodes() {
		switch n.Role {
		case graph.RoleCoordinator:
			out[n.ID] = Anchor
		case graph.RoleParent:
			parents = append(parents, n.ID)
		}
	}
	// Row is centred on the anchor so adding a parent shifts the others.
	startX := Anchor.X - float64(len(parents)-1)*Spacing/2
	for i, id := range parents {
		out[id] = graph.Point{X: startX + float64(i)*Spacing, Y: Anchor.Y + RowOffset}
	}
	return out
}

// Assign moves every auto-placed node that has not been pinned by a drag.
// Pinned nodes still occupy their slot in the row.
func Assign(g graph.Graph) graph.Graph {
	slots := Positions(g)
	for id := range slots {
		if n, _ := g.Node(id); n.Pinned {
			delete(slots, id)
		}
	}
	return graph.Place(g, slots)
}

// HitTest returns the node whose box contains the world point. Nodes drawn
// later sit on top, so the last inserted match wins.
func HitTest(g graph.Graph, p graph.Point) (string, bool) {
	nodes := g.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if p.X >= n.Position.X && p.X <= n.Position.X+NodeWidth &&
			p.Y >= n.Position.Y && p.Y <= n.Position.Y+NodeHeight {
			return n.ID, true
		}
	}
	return "", false
}
