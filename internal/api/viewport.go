package api

import (
	"fmt"
	"net/http"
)

type pointerRequest struct {
	Action string  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	var req pointerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	var err error
	switch req.Action {
	case "down":
		err = s.Session.PointerDown(ctx, req.X, req.Y)
	case "move":
		err = s.Session.PointerMove(ctx, req.X, req.Y)
	case "up":
		err = s.Session.PointerUp(ctx)
	case "leave":
		err = s.Session.PointerLeave(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown pointer action %q", req.Action))
		return
	}
	s.writeView(w, err)
}

func (s *Server) handleWheel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	var req struct {
		DeltaY float64 `json:"delta_y"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeView(w, s.Session.Wheel(r.Context(), req.DeltaY))
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	var req struct {
		Direction string `json:"direction"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch req.Direction {
	case "in":
		err = s.Session.ZoomIn(r.Context())
	case "out":
		err = s.Session.ZoomOut(r.Context())
	case "reset":
		err = s.Session.ResetView(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown zoom direction %q", req.Direction))
		return
	}
	s.writeView(w, err)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeView(w, s.Session.Select(r.Context(), req.AgentID))
}

// writeView answers a viewport command with the view state it produced.
// Commands are applied before they return, so the snapshot already holds it.
func (s *Server) writeView(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot().View)
}
