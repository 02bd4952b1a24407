package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flitsinc/agentlab/internal/events"
	"github.com/flitsinc/agentlab/internal/idgen"
	"github.com/flitsinc/agentlab/internal/ledger"
)

type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

type Session struct {
	ID        string     `json:"id"`
	WSURL     string     `json:"ws_url"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Events    int        `json:"events"`
}

// Transition is a recorded connectivity change. AfterSeq is the last ledger
// sequence received before it, so a reconnect marks a possible gap.
type Transition struct {
	Connected bool      `json:"connected"`
	AfterSeq  int64     `json:"after_seq"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrSessionNotFound = errors.New("session not found")

func (j *Journal) StartSession(ctx context.Context, wsURL string) (Session, error) {
	s := Session{ID: idgen.SessionID(), WSURL: wsURL, StartedAt: time.Now().UTC()}
	_, err := j.db.ExecContext(ctx, `INSERT INTO sessions (id, ws_url, started_at) VALUES (?, ?, ?)`,
		s.ID, s.WSURL, formatTime(s.StartedAt))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (j *Journal) EndSession(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := j.Session(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Session(ctx context.Context, id string) (Session, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT s.id, s.ws_url, s.started_at, s.ended_at, (SELECT COUNT(*) FROM journal WHERE session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// ListSessions returns the most recent sessions first.
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.ws_url, s.started_at, s.ended_at, (SELECT COUNT(*) FROM journal WHERE session_id = s.id)
		FROM sessions s ORDER BY s.started_at DESC, s.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&s.ID, &s.WSURL, &startedAt, &endedAt, &s.Events); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		s.EndedAt = &t
	}
	return s, nil
}

// Append writes ledger entries in one transaction.
func (j *Journal) Append(ctx context.Context, sessionID string, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal (id, session_id, seq, agent_id, kind, raw, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, idgen.ULID(), sessionID, e.Seq, e.Event.AgentID, string(e.Event.Kind), string(e.Raw), formatTime(e.ReceivedAt)); err != nil {
			return fmt.Errorf("insert journal entry %d: %w", e.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal: %w", err)
	}
	return nil
}

// Entries reads a session back in sequence order. Rows whose payload no
// longer decodes are skipped, as they would have been on the wire.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]ledger.Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT seq, raw, received_at FROM journal WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var raw, receivedAt string
		if err := rows.Scan(&e.Seq, &raw, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		ev, err := events.Decode([]byte(raw))
		if err != nil {
			continue
		}
		e.Event = ev
		e.Raw = []byte(raw)
		e.ReceivedAt = parseTime(receivedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func (j *Journal) RecordConnectivity(ctx context.Context, sessionID string, connected bool, afterSeq int64) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO connectivity (id, session_id, connected, after_seq, created_at) VALUES (?, ?, ?, ?, ?)`,
		idgen.ULID(), sessionID, connected, afterSeq, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert connectivity: %w", err)
	}
	return nil
}

func (j *Journal) Connectivity(ctx context.Context, sessionID string) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT connected, after_seq, created_at FROM connectivity WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read connectivity: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var createdAt string
		if err := rows.Scan(&t.Connected, &t.AfterSeq, &createdAt); err != nil {
			return nil, fmt.Errorf("scan connectivity: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connectivity: %w", err)
	}
	return out, nil
}
