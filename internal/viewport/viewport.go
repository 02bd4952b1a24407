// Package viewport holds the canvas transform and the pointer gesture state
// machine that pans it or drags nodes across it.
//
// The canvas is drawn as scale(zoom) translate(offset), so a world point w
// appears on screen at (w + offset) * zoom.
package viewport

import (
	"math"

	"github.com/flitsinc/agentlab/internal/graph"
)

const (
	MinZoom = 0.2
	MaxZoom = 2.5

	ZoomInFactor  = 1.25
	ZoomOutFactor = 0.8
)

type Viewport struct {
	Offset graph.Point `json:"offset"`
	Zoom   float64     `json:"zoom"`
}

// Initial is the view a fresh session opens with.
func Initial() Viewport {
	return Viewport{Offset: graph.Point{X: -20, Y: -20}, Zoom: 0.85}
}

func (v Viewport) ScreenToWorld(p graph.Point) graph.Point {
	return p.Scale(1 / v.Zoom).Sub(v.Offset)
}

func (v Viewport) WorldToScreen(p graph.Point) graph.Point {
	return p.Add(v.Offset).Scale(v.Zoom)
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return min(max(z, MinZoom), MaxZoom)
}

type Mode string

const (
	ModeIdle     Mode = "idle"
	ModePanning  Mode = "panning"
	ModeDragging Mode = "dragging"
)

// Drag is the state of a node drag between pointer down and pointer up.
type Drag struct {
	AgentID       string      `json:"agent_id"`
	OriginPointer graph.Point `json:"origin_pointer"`
	OriginNodePos graph.Point `json:"origin_node_pos"`
}

// State is a copy of the controller for readers outside the owning goroutine.
type State struct {
	Viewport Viewport `json:"viewport"`
	Mode     Mode     `json:"mode"`
	Selected string   `json:"selected,omitempty"`
	Drag     *Drag    `json:"drag,omitempty"`
}

// Controller is not safe for concurrent use.
type Controller struct {
	view     Viewport
	mode     Mode
	last     graph.Point
	drag     Drag
	selected string
}

func NewController() *Controller {
	return &Controller{view: Initial(), mode: ModeIdle}
}

func (c *Controller) Viewport() Viewport { return c.view }
func (c *Controller) Mode() Mode         { return c.mode }
func (c *Controller) Selected() string   { return c.selected }

func (c *Controller) State() State {
	s := State{Viewport: c.view, Mode: c.mode, Selected: c.selected}
	if c.mode == ModeDragging {
		d := c.drag
		s.Drag = &d
	}
	return s
}

// PointerDown starts a gesture at screen point p. An empty hitID means the
// background was hit: the selection is cleared and the canvas pans. Otherwise
// the node at nodePos starts being dragged.
func (c *Controller) PointerDown(p graph.Point, hitID string, nodePos graph.Point) {
	if hitID == "" {
		c.mode = ModePanning
		c.last = p
		c.selected = ""
		return
	}
	c.mode = ModeDragging
	c.drag = Drag{AgentID: hitID, OriginPointer: p, OriginNodePos: nodePos}
}

// PointerMove advances the current gesture. While dragging it returns the
// node id and its new world position; the caller owns writing it back.
func (c *Controller) PointerMove(p graph.Point) (id string, pos graph.Point, moved bool) {
	switch c.mode {
	case ModePanning:
		c.view.Offset = c.view.Offset.Add(p.Sub(c.last).Scale(1 / c.view.Zoom))
		c.last = p
	case ModeDragging:
		delta := p.Sub(c.drag.OriginPointer).Scale(1 / c.view.Zoom)
		return c.drag.AgentID, c.drag.OriginNodePos.Add(delta), true
	}
	return "", graph.Point{}, false
}

// PointerUp ends the gesture. Ending a drag selects the node no matter how
// far it moved; a click is a drag of zero distance.
func (c *Controller) PointerUp() {
	if c.mode == ModeDragging {
		c.selected = c.drag.AgentID
	}
	c.mode = ModeIdle
	c.drag = Drag{}
}

// PointerLeave ends panning. A drag survives the pointer leaving the canvas.
func (c *Controller) PointerLeave() {
	if c.mode == ModePanning {
		c.mode = ModeIdle
	}
}

// Wheel zooms about the canvas origin, not the pointer.
func (c *Controller) Wheel(deltaY float64) {
	if deltaY > 0 {
		c.ZoomOut()
		return
	}
	c.ZoomIn()
}

func (c *Controller) ZoomIn()  { c.view.Zoom = clampZoom(c.view.Zoom * ZoomInFactor) }
func (c *Controller) ZoomOut() { c.view.Zoom = clampZoom(c.view.Zoom * ZoomOutFactor) }

func (c *Controller) Reset() {
	c.view = Initial()
}

func (c *Controller) Select(id string) {
	c.selected = id
}

func (c *Controller) ScreenToWorld(p graph.Point) graph.Point {
	return c.view.ScreenToWorld(p)
}

func (c *Controller) WorldToScreen(p graph.Point) graph.Point {
	return c.view.WorldToScreen(p)
}
