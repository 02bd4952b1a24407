package graph

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/flitsinc/agentlab/internal/events"
)

var agentIDs = []string{"fe", "be", "sec", "db", "orchestrator"}

func genEvent(t *rapid.T, label string) events.Event {
	id := rapid.SampledFrom(agentIDs).Draw(t, label+"-agent")
	switch rapid.IntRange(0, 6).Draw(t, label+"-kind") {
	case 0:
		return spawn(id, "backend", "")
	case 1:
		s := rapid.SampledFrom([]string{"spawning", "active", "validating", "done", "failed", "pending"}).Draw(t, label+"-status")
		return status(id, s)
	case 2:
		kind := rapid.SampledFrom(events.TextKinds).Draw(t, label+"-text-kind")
		text := rapid.StringN(0, 40, -1).Draw(t, label+"-text")
		return events.Event{AgentID: id, Kind: kind, Payload: events.Text{Kind: kind, Text: text}}
	case 3:
		return done(id)
	case 4:
		return failed(id, "boom")
	case 5:
		return events.Event{AgentID: id, Kind: "memory_update", Payload: events.Unknown{Type: "memory_update"}}
	default:
		return spawn(rapid.SampledFrom([]string{"x1", "x2", "x3"}).Draw(t, label+"-fresh"), "frontend", "")
	}
}

// TestProperty_ProgressMonotonic: while a node stays active, textual events
// never lower its progress, and only done takes it above the cap.
func TestProperty_ProgressMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New()
		n := rapid.IntRange(1, 120).Draw(t, "n")
		for i := 0; i < n; i++ {
			ev := genEvent(t, fmt.Sprintf("ev%d", i))
			next := Apply(g, ev)
			for _, after := range next.Nodes() {
				before, existed := g.Node(after.ID)
				if !existed || after.Progress == nil {
					continue
				}
				if before.Status == StatusActive && after.Status == StatusActive && after.ProgressValue() < before.ProgressValue() {
					t.Fatalf("progress decreased for %s: %d -> %d", after.ID, before.ProgressValue(), after.ProgressValue())
				}
				if after.ProgressValue() > TextCap && after.ProgressValue() != DoneProgress {
					t.Fatalf("progress %d above cap without done", after.ProgressValue())
				}
				if ev.Kind.IsText() && ev.AgentID == after.ID && before.ProgressValue() <= TextCap && after.ProgressValue() > TextCap {
					t.Fatalf("textual event pushed %s past the cap", after.ID)
				}
			}
			g = next
		}
	})
}

// TestProperty_GraphConnectivity: every parent has exactly one inbound edge
// from the coordinator and there are no duplicate or dangling edges.
func TestProperty_GraphConnectivity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New()
		n := rapid.IntRange(1, 80).Draw(t, "n")
		for i := 0; i < n; i++ {
			g = Apply(g, genEvent(t, fmt.Sprintf("ev%d", i)))
		}

		seen := map[Edge]int{}
		inbound := map[string]int{}
		for _, e := range g.Edges() {
			seen[e]++
			inbound[e.To]++
			if e.From != events.CoordinatorID {
				t.Fatalf("edge from non-coordinator %s", e.From)
			}
			if !g.Has(e.To) {
				t.Fatalf("dangling edge to %s", e.To)
			}
		}
		for e, c := range seen {
			if c > 1 {
				t.Fatalf("duplicate edge %+v", e)
			}
		}
		coordinators := 0
		for _, node := range g.Nodes() {
			switch node.Role {
			case RoleParent:
				if inbound[node.ID] != 1 {
					t.Fatalf("parent %s has %d inbound edges", node.ID, inbound[node.ID])
				}
			case RoleCoordinator:
				coordinators++
			}
		}
		if g.Len() > 0 && coordinators != 1 {
			t.Fatalf("expected exactly one coordinator, got %d", coordinators)
		}
	})
}

// TestProperty_BatchBoundariesDoNotMatter: folding a sequence in one pass or
// split at an arbitrary point gives the same graph.
func TestProperty_BatchBoundariesDoNotMatter(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(t, "n")
		evs := make([]events.Event, n)
		for i := range evs {
			evs[i] = genEvent(t, fmt.Sprintf("ev%d", i))
		}
		split := rapid.IntRange(0, n).Draw(t, "split")

		whole := fold(New(), evs...)
		parts := fold(fold(New(), evs[:split]...), evs[split:]...)

		if len(whole.Nodes()) != len(parts.Nodes()) {
			t.Fatalf("node count differs")
		}
		for _, a := range whole.Nodes() {
			b, _ := parts.Node(a.ID)
			if a.Status != b.Status || a.ProgressValue() != b.ProgressValue() || a.Tokens != b.Tokens || a.Task != b.Task {
				t.Fatalf("node %s differs: %+v vs %+v", a.ID, a, b)
			}
		}
	})
}
