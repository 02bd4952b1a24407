// Package schema names the notice streams a session publishes.
package schema

const (
	// StreamGraph carries node, edge and viewport changes.
	StreamGraph = "graph"
	// StreamOutput names the agents whose output log grew.
	StreamOutput = "output"
	StreamFeed   = "feed"
	// StreamStatus reports connectivity.
	StreamStatus = "status"
)

// Streams lists every stream in the order a client should apply them.
var Streams = []string{
	StreamStatus,
	StreamGraph,
	StreamOutput,
	StreamFeed,
}

func IsStream(name string) bool {
	for _, s := range Streams {
		if s == name {
			return true
		}
	}
	return false
}
