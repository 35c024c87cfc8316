package domain

import "time"

// SessionRecord is the persisted metadata of a session.
type SessionRecord struct {
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Mode      Mode       `json:"mode"`
	Language  string     `json:"language"`
	Degraded  bool       `json:"degraded"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	// ConnectionID identifies the connection currently owning the session id.
	ConnectionID string `json:"connection_id,omitempty"`
}

// StoredTurn is the persisted text projection of a completed turn.
type StoredTurn struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Interrupted bool      `json:"interrupted"`
	CreatedAt   time.Time `json:"created_at"`
}
