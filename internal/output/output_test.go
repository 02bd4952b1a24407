package output

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flitsinc/agentlab/internal/events"
)

func text(agent string, kind events.Kind, s string) events.Event {
	return events.Event{AgentID: agent, Kind: kind, Payload: events.Text{Kind: kind, Text: s}}
}

func TestAggregatorKeepsLastFifty(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 73; i++ {
		a.Apply(text("be", events.KindOutput, fmt.Sprintf("line %d", i)))
	}

	lines := a.Lines("be")
	require.Len(t, lines, Capacity)
	require.Equal(t, "line 23", lines[0].Text)
	require.Equal(t, "line 72", lines[Capacity-1].Text)
	require.Equal(t, Capacity, a.Count("be"))
}

func TestAggregatorBeforeWrap(t *testing.T) {
	a := NewAggregator()
	a.Apply(text("be", events.KindThink, "plan"))
	a.Apply(text("be", events.KindBash, "go test ./..."))

	require.Equal(t, []Line{
		{Kind: events.KindThink, Text: "plan"},
		{Kind: events.KindBash, Text: "go test ./..."},
	}, a.Lines("be"))
}

func TestAggregatorIgnoresNonTextAndCoordinator(t *testing.T) {
	a := NewAggregator()
	a.Apply(events.Event{AgentID: "be", Kind: events.KindDone, Payload: events.Done{Text: "ok"}})
	a.Apply(text("orchestrator", events.KindOutput, "planning"))

	require.Nil(t, a.Lines("be"))
	require.Nil(t, a.Lines("orchestrator"))
	require.Empty(t, a.Snapshot())
}

func TestLinesReturnsCopy(t *testing.T) {
	a := NewAggregator()
	a.Apply(text("be", events.KindCode, "x"))
	lines := a.Lines("be")
	lines[0].Text = "mutated"
	require.Equal(t, "x", a.Lines("be")[0].Text)
	require.Equal(t, 0, a.Count("nobody"))
}
