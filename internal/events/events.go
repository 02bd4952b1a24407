// Package events decodes the coordinator's lifecycle notifications into a
// closed set of payload variants.
//
// Every frame on the wire is a single JSON object:
//
//	{"agent_id": "be", "type": "spawn", "timestamp": "...", "domain": "backend", "label": "Backend Agent"}
//
// Tags outside the known vocabulary decode to Unknown rather than failing;
// only frames that are not JSON objects or lack agent_id/type are malformed.
package events

import (
	"time"
)

type Kind string

const (
	KindSpawn  Kind = "spawn"
	KindStatus Kind = "status"
	KindOutput Kind = "output"
	KindThink  Kind = "think"
	KindCode   Kind = "code"
	KindBash   Kind = "bash"
	KindDone   Kind = "done"
	KindError  Kind = "error"
)

// TextKinds are the four kinds that carry a line of agent output.
var TextKinds = []Kind{KindOutput, KindThink, KindCode, KindBash}

// IsText reports whether k is one of the textual output kinds.
func (k Kind) IsText() bool {
	switch k {
	case KindOutput, KindThink, KindCode, KindBash:
		return true
	}
	return false
}

const (
	// CoordinatorID is the node id of the synthesized coordinator.
	CoordinatorID = "coordinator"
	// CoordinatorAlias is the agent id the backend uses for its own messages.
	CoordinatorAlias = "orchestrator"
)

// IsCoordinator reports whether an agent id addresses the coordinator.
func IsCoordinator(agentID string) bool {
	return agentID == CoordinatorID || agentID == CoordinatorAlias
}

type Event struct {
	AgentID   string
	Kind      Kind
	Timestamp time.Time
	Payload   Payload
}

// Text returns the human-readable text carried by the event, if any.
func (e Event) Text() string {
	switch p := e.Payload.(type) {
	case Text:
		return p.Text
	case Status:
		return p.Text
	case Done:
		return p.Text
	case Error:
		return p.Text
	case Unknown:
		return p.Text
	}
	return ""
}

// Payload is implemented only by the variants in this package.
type Payload interface {
	payload()
}

type Spawn struct {
	Domain string
	Label  string
}

type Status struct {
	Status   string
	Branch   string
	Worktree string
	Text     string
}

// Text is one line of output, reasoning, code or shell activity.
type Text struct {
	Kind Kind
	Text string
}

type Done struct {
	Text string
}

type Error struct {
	Text string
}

// Unknown keeps the raw tag of a kind this client does not interpret.
type Unknown struct {
	Type string
	Text string
}

func (Spawn) payload()   {}
func (Status) payload()  {}
func (Text) payload()    {}
func (Done) payload()    {}
func (Error) payload()   {}
func (Unknown) payload() {}
