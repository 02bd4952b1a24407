package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformed = errors.New("malformed event")

type wireEvent struct {
	AgentID   string `json:"agent_id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Text      string `json:"text,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Label     string `json:"label,omitempty"`
	Status    string `json:"status,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Worktree  string `json:"worktree,omitempty"`
}

// Decode parses one frame. The returned error wraps ErrMalformed.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(w.AgentID) == "" {
		return Event{}, fmt.Errorf("%w: agent_id is required", ErrMalformed)
	}
	if strings.TrimSpace(w.Type) == "" {
		return Event{}, fmt.Errorf("%w: type is required", ErrMalformed)
	}

	ev := Event{
		AgentID:   w.AgentID,
		Kind:      Kind(w.Type),
		Timestamp: parseTimestamp(w.Timestamp),
	}
	switch ev.Kind {
	case KindSpawn:
		ev.Payload = Spawn{Domain: w.Domain, Label: w.Label}
	case KindStatus:
		ev.Payload = Status{Status: w.Status, Branch: w.Branch, Worktree: w.Worktree, Text: w.Text}
	case KindOutput, KindThink, KindCode, KindBash:
		ev.Payload = Text{Kind: ev.Kind, Text: w.Text}
	case KindDone:
		ev.Payload = Done{Text: w.Text}
	case KindError:
		ev.Payload = Error{Text: w.Text}
	default:
		ev.Payload = Unknown{Type: w.Type, Text: w.Text}
	}
	return ev, nil
}

// Encode renders an event in wire form.
func Encode(ev Event) ([]byte, error) {
	w := wireEvent{AgentID: ev.AgentID, Type: string(ev.Kind)}
	if !ev.Timestamp.IsZero() {
		w.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	switch p := ev.Payload.(type) {
	case Spawn:
		w.Domain = p.Domain
		w.Label = p.Label
	case Status:
		w.Status = p.Status
		w.Branch = p.Branch
		w.Worktree = p.Worktree
		w.Text = p.Text
	case Text:
		w.Type = string(p.Kind)
		w.Text = p.Text
	case Done:
		w.Text = p.Text
	case Error:
		w.Text = p.Text
	case Unknown:
		w.Type = p.Type
		w.Text = p.Text
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts
	}
	// Naive isoformat without an offset.
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", v); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
