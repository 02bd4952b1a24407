package output

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/flitsinc/agentlab/internal/events"
)

// TestProperty_RingKeepsNewest: after any number of lines an agent's log is
// the last min(n, Capacity) lines in arrival order.
func TestProperty_RingKeepsNewest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 3*Capacity).Draw(t, "n")
		a := NewAggregator()
		for i := range n {
			kind := rapid.SampledFrom(events.TextKinds).Draw(t, fmt.Sprintf("kind-%d", i))
			a.Apply(text("be", kind, fmt.Sprintf("line %d", i)))
		}

		lines := a.Lines("be")
		want := min(n, Capacity)
		if len(lines) != want {
			t.Fatalf("kept %d lines, want %d", len(lines), want)
		}
		for i, l := range lines {
			if expect := fmt.Sprintf("line %d", n-want+i); l.Text != expect {
				t.Fatalf("line %d is %q, want %q", i, l.Text, expect)
			}
		}
	})
}
