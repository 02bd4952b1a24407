package graph

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParent      Role = "parent"
	RoleChild       Role = "child"
	RoleSecurity    Role = "security"
)

// DisplayStatus is the vocabulary the canvas renders, not the backend's.
type DisplayStatus string

const (
	StatusIdle    DisplayStatus = "idle"
	StatusActive  DisplayStatus = "active"
	StatusReview  DisplayStatus = "review"
	StatusDone    DisplayStatus = "done"
	StatusBlocked DisplayStatus = "blocked"
)

// DisplayStatusFor maps a backend agent status onto the display vocabulary.
func DisplayStatusFor(status string) DisplayStatus {
	switch status {
	case "spawning", "active":
		return StatusActive
	case "validating":
		return StatusReview
	case "done":
		return StatusDone
	case "failed":
		return StatusBlocked
	default:
		return StatusIdle
	}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(o Point) Point     { return Point{X: p.X + o.X, Y: p.Y + o.Y} }
func (p Point) Sub(o Point) Point     { return Point{X: p.X - o.X, Y: p.Y - o.Y} }
func (p Point) Scale(f float64) Point { return Point{X: p.X * f, Y: p.Y * f} }

type Validation struct {
	Level  int    `json:"level"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Node is a value; the reducer replaces nodes instead of mutating them, so
// slices and pointers inside a Node must never be written through.
type Node struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Position   Point         `json:"position"`
	Label      string        `json:"label"`
	Subtitle   string        `json:"subtitle"`
	Status     DisplayStatus `json:"status"`
	Tokens     int           `json:"tokens"`
	Progress   *int          `json:"progress"`
	Task       string        `json:"task"`
	Children   []string      `json:"children"`
	Branch     string        `json:"branch,omitempty"`
	Worktree   string        `json:"worktree,omitempty"`
	Skills     []string      `json:"skills"`
	Validation *Validation   `json:"validation"`
	Pinned     bool          `json:"pinned,omitempty"`
}

// ProgressValue returns the progress percentage, or -1 when the node does
// not track progress.
func (n Node) ProgressValue() int {
	if n.Progress == nil {
		return -1
	}
	return *n.Progress
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func intPtr(v int) *int {
	return &v
}
