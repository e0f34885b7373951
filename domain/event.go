package domain

import "time"

// EventType names a kind of cross-application session event. The set is
// extensible; open_study and close_study are the two the coordinator emits
// today.
type EventType string

const (
	EventOpenStudy  EventType = "open_study"
	EventCloseStudy EventType = "close_study"
)

// SessionEvent is one immutable fact: a source application reported an event
// against a study, addressed to one or more target applications. EventID and
// OccurredAt are assigned server-side at append time; client-supplied
// timestamps are never trusted for ordering. Once appended an event is never
// mutated or deleted.
type SessionEvent struct {
	EventID    string    `bson:"_id" json:"event_id"`
	SessionID  string    `bson:"session_id" json:"session_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	Type       EventType `bson:"event" json:"event"`
	StudyID    string    `bson:"study_id,omitempty" json:"study_id,omitempty"`
	OccurredAt time.Time `bson:"occurred_at" json:"occurred_at"`
	Source     string    `bson:"source" json:"source"`
	Target     []AppType `bson:"target" json:"target"`
	// Payload is the encoded event payload (see payload.go). Stored as an
	// opaque blob so future event types do not require schema changes.
	Payload []byte `bson:"payload,omitempty" json:"payload,omitempty"`
}
