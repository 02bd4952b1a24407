package eventbus

import "time"

// Notice tells subscribers that a session published new state on a stream.
// Seq is the ledger position the state reflects.
type Notice struct {
	ID        string    `json:"id"`
	Stream    string    `json:"stream"`
	Seq       int64     `json:"seq"`
	Subject   string    `json:"subject,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type NoticeInput struct {
	Stream  string
	Seq     int64
	Subject string
	Payload any
}
