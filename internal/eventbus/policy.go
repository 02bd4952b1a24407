package eventbus

import (
	"strings"

	"github.com/flitsinc/agentlab/internal/schema"
)

// ParseStreams reads a comma separated stream list, dropping unknown and
// duplicate names. An empty or fully unknown list selects every stream.
func ParseStreams(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if !schema.IsStream(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return append([]string(nil), schema.Streams...)
	}
	return out
}
