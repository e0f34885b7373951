package services

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	"go.pilab.hu/radsync/redisstream"
	"go.pilab.hu/radsync/ws"
)

// Deduplicator recognizes event ids already handled by this instance.
// Implemented by redisstream.Deduplicator.
type Deduplicator interface {
	Seen(eventID string) bool
}

// Dispatcher is the stream consumer's handler: it takes each delivered
// stream message and pushes it to this instance's live clients of the
// targeted application types. Delivery is at-least-once upstream, so a
// dedup window absorbs redeliveries; delivery downstream is best effort,
// disconnected clients catch up through the session state endpoint.
type Dispatcher struct {
	dedup     Deduplicator
	transport Transport
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(dedup Deduplicator, transport Transport) *Dispatcher {
	return &Dispatcher{
		dedup:     dedup,
		transport: transport,
	}
}

// streamEventView is the frame shape pushed to websocket clients for a
// stream-delivered event.
type streamEventView struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handle processes one stream message. It always returns nil: a message
// that reached this point is consumable, and acking it is correct whether
// or not any local client was reachable.
func (d *Dispatcher) Handle(ctx context.Context, msg redisstream.Message) error {
	if d.dedup.Seen(msg.EventID) {
		log.Debug().
			Str("event_id", msg.EventID).
			Str("message_id", msg.ID).
			Msg("Duplicate stream delivery skipped")
		return nil
	}

	frame := ws.Message{
		Type: string(msg.Event),
		Data: streamEventView{
			EventID:   msg.EventID,
			SessionID: msg.SessionID,
			UserID:    msg.UserID,
			Source:    msg.Source,
			Payload:   json.RawMessage(msg.Data),
		},
	}

	delivered := 0
	for _, appType := range msg.Target {
		// Admin consoles monitor every user's activity, so an admin
		// target fans out to all admin clients rather than only the
		// acting user's.
		if appType == domain.AppAdmin {
			delivered += d.transport.Broadcast(appType, frame)
			continue
		}
		if d.transport.Send(msg.UserID, appType, frame) {
			delivered++
		}
	}

	log.Debug().
		Str("event_id", msg.EventID).
		Str("event", string(msg.Event)).
		Int("targets", len(msg.Target)).
		Int("delivered", delivered).
		Msg("Stream message dispatched")
	return nil
}
