package conn

import "errors"

// SendStale feeds the manager messages tagged with a handle it has never
// tracked, the way a replaced connection's goroutines would.
func (m *Manager) SendStale(c Conn, frame []byte) {
	stale := &attempt{id: 0, cancel: func() {}}
	m.send(openedMsg{a: stale, conn: c})
	m.send(frameMsg{a: stale, data: frame})
	m.send(closedMsg{a: stale, err: errors.New("stale close")})
}
