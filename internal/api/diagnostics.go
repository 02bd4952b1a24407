package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr    string `json:"http_addr"`
	WSURL       string `json:"ws_url"`
	DataDir     string `json:"data_dir"`
	JournalPath string `json:"journal_path,omitempty"`
	WebDir      string `json:"web_dir"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Journaling    bool            `json:"journaling"`
	Info          DiagnosticsInfo `json:"info"`
	EventBus      map[string]any  `json:"eventbus"`
	Session       map[string]any  `json:"session"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Journaling:    s.Journal != nil,
		Info:          s.Info,
		EventBus:      map[string]any{},
		Session:       map[string]any{},
	}
	if s.Bus != nil {
		resp.EventBus["subscribers"] = s.Bus.SubscriberCount()
	}
	if s.Session != nil {
		snap := s.Session.Snapshot()
		resp.Session["id"] = s.Session.ID()
		resp.Session["journal_id"] = s.Session.JournalID()
		resp.Session["conn_state"] = s.Session.ConnState()
		resp.Session["seq"] = snap.Seq
		resp.Session["nodes"] = len(snap.Nodes)
	}
	writeJSON(w, http.StatusOK, resp)
}
