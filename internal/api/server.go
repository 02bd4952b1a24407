package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flitsinc/agentlab/internal/eventbus"
	"github.com/flitsinc/agentlab/internal/output"
	"github.com/flitsinc/agentlab/internal/schema"
	"github.com/flitsinc/agentlab/internal/session"
	"github.com/flitsinc/agentlab/internal/state"
)

type Server struct {
	Session   *session.Session
	Bus       *eventbus.Bus
	Journal   *state.Journal
	StartedAt time.Time
	Info      DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/graph", s.handleGraph)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentItem)
	mux.HandleFunc("/api/feed", s.handleFeed)
	mux.HandleFunc("/api/viewport/pointer", s.handlePointer)
	mux.HandleFunc("/api/viewport/wheel", s.handleWheel)
	mux.HandleFunc("/api/viewport/zoom", s.handleZoom)
	mux.HandleFunc("/api/viewport/select", s.handleSelect)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionItem)
	mux.HandleFunc("/api/streams/subscribe", s.handleStreamSubscribe)
	mux.HandleFunc("/api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("/api/streams/", s.handleStreams)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if s.Session != nil {
		resp["session_id"] = s.Session.ID()
		resp["connected"] = s.Session.Connected()
		resp["conn_state"] = s.Session.ConnState()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot().Nodes)
}

type outputResponse struct {
	AgentID string        `json:"agent_id"`
	Lines   []output.Line `json:"lines"`
}

func (s *Server) handleAgentItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("agent"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	agentID := segments[0]
	snap := s.Session.Snapshot()
	if len(segments) == 1 {
		node, ok := snap.Node(agentID)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound("agent "+agentID))
			return
		}
		writeJSON(w, http.StatusOK, node)
		return
	}

	switch segments[1] {
	case "output":
		lines, ok := snap.Output(agentID)
		if !ok && !snap.Graph().Has(agentID) {
			writeError(w, http.StatusNotFound, errNotFound("agent "+agentID))
			return
		}
		if lines == nil {
			lines = []output.Line{}
		}
		writeJSON(w, http.StatusOK, outputResponse{AgentID: agentID, Lines: lines})
	default:
		writeError(w, http.StatusNotFound, errNotFound("agent action"))
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireSession(w) {
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	writeJSON(w, http.StatusOK, s.Session.Snapshot().Feed(limit))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireJournal(w) {
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	items, err := s.Journal.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []state.Session{}
	}
	writeJSON(w, http.StatusOK, items)
}

type sessionResponse struct {
	state.Session
	Connectivity []state.Transition `json:"connectivity"`
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !s.requireJournal(w) {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("session"))
		return
	}
	id := segments[0]
	sess, err := s.Journal.Session(r.Context(), id)
	if err != nil {
		writeError(w, journalStatus(err), err)
		return
	}
	if len(segments) == 1 {
		transitions, err := s.Journal.Connectivity(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if transitions == nil {
			transitions = []state.Transition{}
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Connectivity: transitions})
		return
	}

	switch segments[1] {
	case "replay":
		entries, err := s.Journal.Entries(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, session.Replay(r.Context(), sess.ID, entries))
	default:
		writeError(w, http.StatusNotFound, errNotFound("session action"))
	}
}

func journalStatus(err error) int {
	if errors.Is(err, state.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleStreams returns the latest notice published on one stream.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stream := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/streams/"), "/")
	if !schema.IsStream(stream) {
		writeError(w, http.StatusNotFound, errNotFound("stream"))
		return
	}
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}
	n, ok := s.Bus.Last(stream)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("notice on "+stream))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}
	streamList := eventbus.ParseStreams(r.URL.Query().Get("streams"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := s.Bus.Subscribe(ctx, streamList)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + n.Stream + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if s.Session == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("session"))
		return false
	}
	return true
}

func (s *Server) requireJournal(w http.ResponseWriter) bool {
	if s.Journal == nil {
		writeError(w, http.StatusNotImplemented, errNotFound("journal"))
		return false
	}
	return true
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
