package domain

import "context"

// SessionRepository is the durable store for sessions and their event log.
// Implementations must make AppendEvent atomic with the owning session's
// last_updated touch: both commit or neither does.
type SessionRepository interface {
	// UpsertSession creates the session row if absent, otherwise touches
	// last_updated. Concurrent calls for the same new session ID must
	// converge on a single row rather than fail on the duplicate insert.
	UpsertSession(ctx context.Context, sessionID, userID string) (*Session, error)

	// AppendEvent durably inserts the event and advances the owning
	// session's last_updated in one atomic unit.
	AppendEvent(ctx context.Context, event *SessionEvent) error

	// GetSessionWithEvents returns the session and its events ordered by
	// occurred_at ascending, from one consistent snapshot. A missing
	// session returns (nil, nil, nil).
	GetSessionWithEvents(ctx context.Context, sessionID string) (*Session, []*SessionEvent, error)

	// ListEvents returns the session's events ordered by occurred_at
	// ascending. The read is idempotent and restartable.
	ListEvents(ctx context.Context, sessionID string) ([]*SessionEvent, error)

	// Ping verifies the store is reachable, for health checks.
	Ping(ctx context.Context) error
}
