package domain

import "time"

// Connection is one live real-time channel between a user's application
// instance and the server. The ID is issued by the transport on connect.
// A connection belongs to exactly one (user, app type) pair; a user may
// hold several connections at once (one per open tab or instance).
type Connection struct {
	ConnectionID string            `json:"connection_id"`
	UserID       string            `json:"user_id"`
	AppType      AppType           `json:"app_type"`
	ConnectedAt  time.Time         `json:"connected_at"`
	LastActivity time.Time         `json:"last_activity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ConnectionStatus answers "does this user have a live connection of this
// app type". ConnectionID and ConnectedSince are set only when connected.
type ConnectionStatus struct {
	Connected      bool       `json:"connected"`
	ConnectionID   string     `json:"connection_id,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// IntentRecord acknowledges a client's declared intent to connect. It is
// not persisted and reserves nothing; the actual connection is registered
// when the transport handshake completes.
type IntentRecord struct {
	UserID       string            `json:"user_id"`
	AppType      AppType           `json:"app_type"`
	RegisteredAt time.Time         `json:"registered_at"`
	ClientInfo   map[string]string `json:"client_info,omitempty"`
	Status       string            `json:"status"`
}

// IntentStatusAwaiting is the status of a freshly registered intent.
const IntentStatusAwaiting = "awaiting_connection"
