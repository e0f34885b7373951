package redisstream

import (
	"encoding/json"
	"fmt"

	"go.pilab.hu/radsync/domain"
)

// Field names of the wire representation. Every committed session event is
// flattened into these stream entry fields; event_id is carried through so
// consumers can de-duplicate redelivered messages.
const (
	fieldEvent     = "event"
	fieldData      = "data"
	fieldUserID    = "user_id"
	fieldSessionID = "session_id"
	fieldEventID   = "event_id"
	fieldSource    = "source"
	fieldTarget    = "target"
)

// Message is one decoded stream entry. ID is the stream-assigned message
// id, monotonic and comparable for ordering; EventID is the appended
// event's own id, used for consumer-side de-duplication.
type Message struct {
	ID        string
	Event     domain.EventType
	EventID   string
	SessionID string
	UserID    string
	Source    string
	Target    []domain.AppType
	Data      []byte
}

// encodeEvent flattens a session event into stream entry fields.
func encodeEvent(ev *domain.SessionEvent) (map[string]interface{}, error) {
	target, err := json.Marshal(ev.Target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}
	data := "{}"
	if len(ev.Payload) > 0 {
		data = string(ev.Payload)
	}
	return map[string]interface{}{
		fieldEvent:     string(ev.Type),
		fieldData:      data,
		fieldUserID:    ev.UserID,
		fieldSessionID: ev.SessionID,
		fieldEventID:   ev.EventID,
		fieldSource:    ev.Source,
		fieldTarget:    string(target),
	}, nil
}

// decodeMessage rebuilds a Message from raw stream entry values. Redis
// hands values back as map[string]interface{} with string payloads.
func decodeMessage(id string, values map[string]interface{}) (Message, error) {
	msg := Message{ID: id}

	str := func(field string) string {
		if v, ok := values[field].(string); ok {
			return v
		}
		return ""
	}

	msg.Event = domain.EventType(str(fieldEvent))
	msg.EventID = str(fieldEventID)
	msg.SessionID = str(fieldSessionID)
	msg.UserID = str(fieldUserID)
	msg.Source = str(fieldSource)
	msg.Data = []byte(str(fieldData))

	if msg.EventID == "" {
		return msg, fmt.Errorf("stream message %s missing event_id", id)
	}

	if raw := str(fieldTarget); raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Target); err != nil {
			return msg, fmt.Errorf("unmarshal target of message %s: %w", id, err)
		}
	}

	return msg, nil
}
