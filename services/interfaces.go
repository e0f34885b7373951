package services

import (
	"context"
	"time"

	"go.pilab.hu/radsync/domain"
	"go.pilab.hu/radsync/ws"
)

// StreamPublisher publishes committed events onto the shared stream.
// Publish errors are always stream-transport failures; the caller recovers
// them locally because the event is already durable.
type StreamPublisher interface {
	Publish(ctx context.Context, ev *domain.SessionEvent) (string, error)
}

// ConnectionRegistry is the live-connection bookkeeping the coordinator and
// dispatcher consult. Implemented by registry.Registry.
type ConnectionRegistry interface {
	RegisterIntent(userID string, appType domain.AppType, clientInfo map[string]string) domain.IntentRecord
	Status(ctx context.Context, userID string, appType domain.AppType) (*domain.ConnectionStatus, error)
	Connections(ctx context.Context, userID string) ([]*domain.Connection, error)
	DisconnectAll(ctx context.Context, userID, reason string) (int, error)
	CleanupStale(ctx context.Context, maxAge time.Duration) (int, error)
	Health(ctx context.Context) (map[string]interface{}, error)
}

// Transport pushes a message over a live realtime channel. Implemented by
// ws.Hub; the dispatcher's responsibility ends at the handoff.
type Transport interface {
	Send(userID string, appType domain.AppType, msg ws.Message) bool
	Broadcast(appType domain.AppType, msg ws.Message) int
}

// EventNotifier decides per target application whether a live channel
// exists and hands the event over when one does.
type EventNotifier interface {
	Notify(ctx context.Context, userID string, appType domain.AppType, ev *domain.SessionEvent) bool
}
