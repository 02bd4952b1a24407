package viewport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flitsinc/agentlab/internal/graph"
)

func pt(x, y float64) graph.Point { return graph.Point{X: x, Y: y} }

func TestZoomOutClampsAtMinimum(t *testing.T) {
	c := NewController()
	c.view.Zoom = 1.0
	for i := 0; i < 10; i++ {
		c.Wheel(120)
		require.GreaterOrEqual(t, c.Viewport().Zoom, MinZoom)
	}
	require.Equal(t, MinZoom, c.Viewport().Zoom)

	c.Wheel(120)
	require.Equal(t, MinZoom, c.Viewport().Zoom)
}

func TestZoomInClampsAtMaximum(t *testing.T) {
	c := NewController()
	for i := 0; i < 20; i++ {
		c.Wheel(-1)
	}
	require.Equal(t, MaxZoom, c.Viewport().Zoom)
	c.ZoomIn()
	require.Equal(t, MaxZoom, c.Viewport().Zoom)
	c.ZoomOut()
	require.InDelta(t, MaxZoom*ZoomOutFactor, c.Viewport().Zoom, 1e-9)
}

func TestPanDividesByZoom(t *testing.T) {
	c := NewController()
	c.view = Viewport{Zoom: 2}
	c.PointerDown(pt(100, 100), "", graph.Point{})
	require.Equal(t, ModePanning, c.Mode())

	_, _, moved := c.PointerMove(pt(140, 120))
	require.False(t, moved)
	require.Equal(t, pt(20, 10), c.Viewport().Offset)

	c.PointerMove(pt(150, 120))
	require.Equal(t, pt(25, 10), c.Viewport().Offset)

	c.PointerLeave()
	require.Equal(t, ModeIdle, c.Mode())
	c.PointerMove(pt(500, 500))
	require.Equal(t, pt(25, 10), c.Viewport().Offset)
}

func TestDragReturnsNodePositionAndSelects(t *testing.T) {
	c := NewController()
	c.view = Viewport{Zoom: 0.5}
	c.PointerDown(pt(10, 10), "be", pt(420, 340))
	require.Equal(t, ModeDragging, c.Mode())
	require.NotNil(t, c.State().Drag)

	id, pos, moved := c.PointerMove(pt(30, 20))
	require.True(t, moved)
	require.Equal(t, "be", id)
	require.Equal(t, pt(460, 360), pos)

	// Delta is measured from the origin pointer, not the previous move.
	_, pos, _ = c.PointerMove(pt(30, 20))
	require.Equal(t, pt(460, 360), pos)

	c.PointerLeave()
	require.Equal(t, ModeDragging, c.Mode())

	c.PointerUp()
	require.Equal(t, ModeIdle, c.Mode())
	require.Equal(t, "be", c.Selected())
	require.Nil(t, c.State().Drag)
}

func TestClickSelectsWithoutMovement(t *testing.T) {
	c := NewController()
	c.PointerDown(pt(1, 1), "fe", pt(0, 0))
	c.PointerUp()
	require.Equal(t, "fe", c.Selected())

	c.PointerDown(pt(1, 1), "", graph.Point{})
	require.Empty(t, c.Selected())
	c.PointerUp()
	require.Equal(t, ModeIdle, c.Mode())
}

func TestTransformsRoundTrip(t *testing.T) {
	v := Viewport{Offset: pt(-20, 35), Zoom: 0.85}
	w := pt(420, 100)
	s := v.WorldToScreen(w)
	require.InDelta(t, 340.0, s.X, 1e-9)
	back := v.ScreenToWorld(s)
	require.InDelta(t, w.X, back.X, 1e-9)
	require.InDelta(t, w.Y, back.Y, 1e-9)
}

func TestReset(t *testing.T) {
	c := NewController()
	c.ZoomIn()
	c.PointerDown(pt(0, 0), "", graph.Point{})
	c.PointerMove(pt(50, 50))
	c.PointerUp()
	c.Reset()
	require.Equal(t, Initial(), c.Viewport())
}
