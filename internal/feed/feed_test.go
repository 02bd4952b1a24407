package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flitsinc/agentlab/internal/events"
)

func orch(kind events.Kind, text string) events.Event {
	return events.Event{AgentID: "orchestrator", Kind: kind, Payload: events.Unknown{Type: string(kind), Text: text}}
}

func TestCoordinatorLabels(t *testing.T) {
	f := New()
	f.Apply(1, orch("dag_update", "DAG decomposed: 3 tasks"))
	f.Apply(2, orch("contract_update", "Contract written: api.md"))
	f.Apply(3, orch("memory_update", "Global memory updated: stack"))
	f.Apply(4, orch("thinking", "Error: no key"))
	f.Apply(5, events.Event{AgentID: "orchestrator", Kind: events.KindStatus, Payload: events.Status{Text: "Alchemistral online"}})
	f.Apply(6, orch("ready", ""))

	got := f.Entries(0)
	require.Len(t, got, 5)
	var labels []string
	for _, e := range got {
		require.Equal(t, RoleCoordinator, e.Role)
		labels = append(labels, e.Label)
	}
	require.Equal(t, []string{"PLAN", "CONTRACT", "MEMORY", "ERROR", "ORCHESTRATOR"}, labels)
	require.Equal(t, int64(5), got[4].Seq)
}

func TestAgentLifecycleEntries(t *testing.T) {
	f := New()
	f.Apply(1, events.Event{AgentID: "be", Kind: events.KindSpawn, Payload: events.Spawn{Domain: "backend", Label: "Backend Agent"}})
	f.Apply(2, events.Event{AgentID: "be", Kind: events.KindOutput, Payload: events.Text{Kind: events.KindOutput, Text: "noise"}})
	f.Apply(3, events.Event{AgentID: "be", Kind: events.KindStatus, Payload: events.Status{Status: "validating"}})
	f.Apply(4, events.Event{AgentID: "be", Kind: events.KindDone, Payload: events.Done{}})
	f.Apply(5, events.Event{AgentID: "fe", Kind: events.KindError, Payload: events.Error{Text: "Spawn failed: git"}})

	got := f.Entries(0)
	require.Len(t, got, 3)
	require.Equal(t, "Spawned Backend Agent (backend)", got[0].Text)
	require.Equal(t, "BE", got[0].Label)
	require.Equal(t, "Completed", got[1].Text)
	require.Equal(t, events.KindError, got[2].Kind)
	require.Equal(t, "Spawn failed: git", got[2].Text)
}

func TestFeedIsBounded(t *testing.T) {
	f := New()
	for i := 0; i < Capacity+25; i++ {
		f.Apply(int64(i+1), orch("thinking", fmt.Sprintf("step %d", i)))
	}
	require.Equal(t, Capacity, f.Len())
	all := f.Entries(0)
	require.Equal(t, "step 25", all[0].Text)

	last := f.Entries(2)
	require.Len(t, last, 2)
	require.Equal(t, fmt.Sprintf("step %d", Capacity+24), last[1].Text)
}
