package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	"go.pilab.hu/radsync/ws"
)

// Notifier is the notification dispatcher: given a target user and event
// it checks the connection registry for a live channel of the right
// application type and, when one exists, hands the event to the realtime
// transport. "Not connected" is a normal outcome, not an error; the
// stream-based path catches those clients up later.
type Notifier struct {
	registry  ConnectionRegistry
	transport Transport
}

// NewNotifier creates a Notifier.
func NewNotifier(registry ConnectionRegistry, transport Transport) *Notifier {
	return &Notifier{
		registry:  registry,
		transport: transport,
	}
}

// Notify reports whether the event was handed to a live channel.
func (n *Notifier) Notify(ctx context.Context, userID string, appType domain.AppType, ev *domain.SessionEvent) bool {
	status, err := n.registry.Status(ctx, userID, appType)
	if err != nil {
		// Registry trouble degrades to the stream path; never a request failure.
		log.Error().Err(err).
			Str("user_id", userID).
			Str("app_type", string(appType)).
			Msg("Connection status lookup failed, skipping realtime notify")
		return false
	}
	if !status.Connected {
		log.Debug().
			Str("user_id", userID).
			Str("app_type", string(appType)).
			Str("event_id", ev.EventID).
			Msg("No live connection for target, relying on stream catch-up")
		return false
	}

	delivered := n.transport.Send(userID, appType, ws.Message{
		Type: string(ev.Type),
		Data: ev,
	})
	if delivered {
		log.Debug().
			Str("user_id", userID).
			Str("app_type", string(appType)).
			Str("event_id", ev.EventID).
			Msg("Event handed to realtime transport")
	}
	return delivered
}

var _ EventNotifier = (*Notifier)(nil)
