package redisstream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	rserrors "go.pilab.hu/radsync/errors"
)

// reclaimScanCount bounds one pending-entry scan.
const reclaimScanCount = 100

// Reclaimer recovers messages that were delivered to a consumer but never
// acknowledged, typically because the instance crashed mid-processing.
type Reclaimer struct {
	client  StreamClient
	stream  string
	group   string
	minIdle time.Duration
}

// NewReclaimer creates a Reclaimer. minIdle is how long a pending message
// must sit unacknowledged before it becomes claimable.
func NewReclaimer(client StreamClient, stream, group string, minIdle time.Duration) *Reclaimer {
	return &Reclaimer{
		client:  client,
		stream:  stream,
		group:   group,
		minIdle: minIdle,
	}
}

// ClaimPending scans the group's pending entries and claims those idle for
// at least the configured threshold, re-delivering them to the named
// consumer. Returns the number of messages claimed.
func (r *Reclaimer) ClaimPending(ctx context.Context, consumer string) (int, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  reclaimScanCount,
	}).Result()
	if err != nil {
		return 0, rserrors.NewStreamUnavailable("xpending", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle >= r.minIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: consumer,
		MinIdle:  r.minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, rserrors.NewStreamUnavailable("xclaim", err)
	}

	if len(claimed) > 0 {
		log.Info().
			Int("claimed", len(claimed)).
			Str("consumer", consumer).
			Str("group", r.group).
			Msg("Reclaimed pending stream messages")
	}
	return len(claimed), nil
}
