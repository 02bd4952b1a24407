// Command labd runs a live agent-lab session against the orchestrator
// backend and serves its graph, output and feed to the dashboard.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "labd:", err)
		os.Exit(1)
	}
}
