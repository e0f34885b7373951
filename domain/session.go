package domain

import "time"

// Session correlates one user's cross-application activity. The ID is the
// identity provider's session marker when the token carries one, otherwise a
// generated UUID. Sessions are created lazily on first event and never
// deleted by this service.
type Session struct {
	ID          string    `bson:"_id" json:"session_id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`
}

// SessionState is the read-only projection of a session plus its ordered
// events, returned to clients for display. A missing session is represented
// as an empty-events shape, not an error.
type SessionState struct {
	Session  SessionView `json:"session"`
	UserInfo UserInfo    `json:"user_info"`
}

// SessionView is the session portion of a SessionState.
type SessionView struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Events    []*SessionEvent `json:"events"`
}

// UserInfo carries the display fields of the identity claims through to
// session state responses.
type UserInfo struct {
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Roles             []string `json:"roles,omitempty"`
}
