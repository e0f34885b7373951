// Package registry tracks which (user, application-type) pairs currently
// hold a live realtime connection. State lives in Redis so every server
// instance sees the same picture: one hash per connection plus one set of
// connection ids per user, both written with a refreshed TTL so leaked
// entries heal themselves even when an unregister is missed.
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
)

const (
	connKeyPrefix = "conn:"
	userKeyPrefix = "connuser:"
	scanBatch     = 100
)

// Client is the subset of the go-redis API the registry uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

var _ Client = (*redis.Client)(nil)

// Registry is the shared connection registry.
type Registry struct {
	client Client
	ttl    time.Duration

	now func() time.Time // injectable for staleness tests
}

// New creates a Registry. ttl is the self-healing expiration refreshed on
// every write to a connection record and its owner's set.
func New(client Client, ttl time.Duration) *Registry {
	return &Registry{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func connKey(connectionID string) string { return connKeyPrefix + connectionID }
func userKey(userID string) string       { return userKeyPrefix + userID }

// RegisterIntent acknowledges that a connection attempt is coming. Nothing
// is persisted and no slot is reserved; the record exists so the client can
// confirm the handshake parameters before opening the transport.
func (r *Registry) RegisterIntent(userID string, appType domain.AppType, clientInfo map[string]string) domain.IntentRecord {
	return domain.IntentRecord{
		UserID:       userID,
		AppType:      appType,
		RegisteredAt: r.now().UTC(),
		ClientInfo:   clientInfo,
		Status:       domain.IntentStatusAwaiting,
	}
}

// Register records a live connection: the per-connection hash and the
// membership in the owning user's set, both with refreshed TTLs.
func (r *Registry) Register(ctx context.Context, conn *domain.Connection) error {
	now := r.now().UTC()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastActivity = now

	metadata := "{}"
	if len(conn.Metadata) > 0 {
		if encoded, err := json.Marshal(conn.Metadata); err == nil {
			metadata = string(encoded)
		}
	}

	key := connKey(conn.ConnectionID)
	fields := map[string]interface{}{
		"connection_id": conn.ConnectionID,
		"user_id":       conn.UserID,
		"app_type":      string(conn.AppType),
		"connected_at":  conn.ConnectedAt.Format(time.RFC3339Nano),
		"last_activity": conn.LastActivity.Format(time.RFC3339Nano),
		"metadata":      metadata,
	}

	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return rserrors.NewStorage("register connection", err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return rserrors.NewStorage("register connection", err)
	}

	uKey := userKey(conn.UserID)
	if err := r.client.SAdd(ctx, uKey, conn.ConnectionID).Err(); err != nil {
		return rserrors.NewStorage("register connection", err)
	}
	if err := r.client.Expire(ctx, uKey, r.ttl).Err(); err != nil {
		return rserrors.NewStorage("register connection", err)
	}

	log.Info().
		Str("connection_id", conn.ConnectionID).
		Str("user_id", conn.UserID).
		Str("app_type", string(conn.AppType)).
		Msg("Registered connection")
	return nil
}

// Unregister removes the connection record and its membership in the
// owner's set. Reports whether a record existed; a second call for the same
// id returns (false, nil), never an error.
func (r *Registry) Unregister(ctx context.Context, connectionID string) (bool, error) {
	key := connKey(connectionID)
	data, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, rserrors.NewStorage("unregister connection", err)
	}
	if len(data) == 0 {
		return false, nil
	}

	if userID := data["user_id"]; userID != "" {
		if err := r.client.SRem(ctx, userKey(userID), connectionID).Err(); err != nil {
			return false, rserrors.NewStorage("unregister connection", err)
		}
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return false, rserrors.NewStorage("unregister connection", err)
	}

	log.Info().Str("connection_id", connectionID).Msg("Unregistered connection")
	return true, nil
}

// Touch refreshes a connection's last_activity and TTL. Reports whether the
// connection still existed.
func (r *Registry) Touch(ctx context.Context, connectionID string) (bool, error) {
	key := connKey(connectionID)
	data, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, rserrors.NewStorage("touch connection", err)
	}
	if len(data) == 0 {
		return false, nil
	}

	if err := r.client.HSet(ctx, key, "last_activity", r.now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return false, rserrors.NewStorage("touch connection", err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return false, rserrors.NewStorage("touch connection", err)
	}
	return true, nil
}

// Status scans the user's connection set for the first member of the given
// app type. One connection per app type is the expected steady state;
// callers wanting "the" connection take the first match.
func (r *Registry) Status(ctx context.Context, userID string, appType domain.AppType) (*domain.ConnectionStatus, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, rserrors.NewStorage("connection status", err)
	}

	for _, id := range ids {
		data, err := r.client.HGetAll(ctx, connKey(id)).Result()
		if err != nil {
			return nil, rserrors.NewStorage("connection status", err)
		}
		if len(data) == 0 || data["app_type"] != string(appType) {
			continue
		}

		status := &domain.ConnectionStatus{
			Connected:    true,
			ConnectionID: id,
		}
		if since, err := time.Parse(time.RFC3339Nano, data["connected_at"]); err == nil {
			status.ConnectedSince = &since
		}
		if last, err := time.Parse(time.RFC3339Nano, data["last_activity"]); err == nil {
			status.LastActivity = &last
		}
		return status, nil
	}

	return &domain.ConnectionStatus{Connected: false}, nil
}

// Connections returns every live connection in the user's set. Set members
// whose hash has already expired are skipped.
func (r *Registry) Connections(ctx context.Context, userID string) ([]*domain.Connection, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, rserrors.NewStorage("list connections", err)
	}

	var conns []*domain.Connection
	for _, id := range ids {
		data, err := r.client.HGetAll(ctx, connKey(id)).Result()
		if err != nil {
			return nil, rserrors.NewStorage("list connections", err)
		}
		if len(data) == 0 {
			continue
		}
		conns = append(conns, connectionFromHash(id, data))
	}
	return conns, nil
}

// DisconnectAll unregisters every connection of a user, returning how many
// were removed. Zero connections is a valid result, not an error.
func (r *Registry) DisconnectAll(ctx context.Context, userID, reason string) (int, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, rserrors.NewStorage("disconnect all", err)
	}

	count := 0
	for _, id := range ids {
		removed, err := r.Unregister(ctx, id)
		if err != nil {
			return count, err
		}
		if removed {
			count++
		}
	}

	log.Info().
		Str("user_id", userID).
		Str("reason", reason).
		Int("disconnected", count).
		Msg("Disconnected user connections")
	return count, nil
}

// CleanupStale sweeps all connection records, unregistering those whose
// last_activity is older than maxAge. Safe to run concurrently with normal
// traffic: a connection touched between this sweep's read and its
// unregister may be removed anyway, and the owning client re-registers.
func (r *Registry) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.now().UTC().Add(-maxAge)
	cleaned := 0

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, connKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return cleaned, rserrors.NewStorage("cleanup stale", err)
		}

		for _, key := range keys {
			data, err := r.client.HGetAll(ctx, key).Result()
			if err != nil {
				return cleaned, rserrors.NewStorage("cleanup stale", err)
			}
			if len(data) == 0 {
				continue
			}

			last, err := time.Parse(time.RFC3339Nano, data["last_activity"])
			if err != nil {
				log.Warn().Str("key", key).Msg("Connection record has invalid last_activity timestamp")
				continue
			}
			if last.Before(cutoff) {
				removed, err := r.Unregister(ctx, data["connection_id"])
				if err != nil {
					return cleaned, err
				}
				if removed {
					cleaned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if cleaned > 0 {
		log.Info().Int("cleaned", cleaned).Msg("Cleaned up stale connections")
	}
	return cleaned, nil
}

// CountByAppType counts live connections grouped by application type.
func (r *Registry) CountByAppType(ctx context.Context) (map[domain.AppType]int, error) {
	counts := make(map[domain.AppType]int)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, connKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, rserrors.NewStorage("count connections", err)
		}
		for _, key := range keys {
			data, err := r.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, rserrors.NewStorage("count connections", err)
			}
			if len(data) == 0 {
				continue
			}
			counts[domain.AppType(data["app_type"])]++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return counts, nil
}

// Health reports registry reachability and the connection breakdown.
func (r *Registry) Health(ctx context.Context) (map[string]interface{}, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		}, rserrors.NewStorage("registry ping", err)
	}

	counts, err := r.CountByAppType(ctx)
	if err != nil {
		return map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		}, err
	}

	total := 0
	byType := make(map[string]int, len(counts))
	for appType, n := range counts {
		byType[string(appType)] = n
		total += n
	}
	return map[string]interface{}{
		"status":                  "healthy",
		"active_connections":      total,
		"connections_by_app_type": byType,
	}, nil
}

func connectionFromHash(id string, data map[string]string) *domain.Connection {
	conn := &domain.Connection{
		ConnectionID: id,
		UserID:       data["user_id"],
		AppType:      domain.AppType(data["app_type"]),
	}
	if t, err := time.Parse(time.RFC3339Nano, data["connected_at"]); err == nil {
		conn.ConnectedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["last_activity"]); err == nil {
		conn.LastActivity = t
	}
	if raw := data["metadata"]; raw != "" && raw != "{}" {
		var metadata map[string]string
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			conn.Metadata = metadata
		}
	}
	return conn
}
