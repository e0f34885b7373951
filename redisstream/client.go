// Package redisstream layers the coordination core's durable event fan-out
// on Redis Streams: bounded publishing, consumer-group consumption with
// at-least-once delivery, pending-entry reclamation, and a de-duplication
// window over carried event ids.
package redisstream

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the go-redis API the stream components
// touch. *redis.Client satisfies it; tests substitute fakes built with the
// go-redis command constructors.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	XInfoGroups(ctx context.Context, key string) *redis.XInfoGroupsCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

var _ StreamClient = (*redis.Client)(nil)
