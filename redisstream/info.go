package redisstream

import (
	"context"

	rserrors "go.pilab.hu/radsync/errors"
)

// GroupInfo summarizes one consumer group's progress on the stream.
type GroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// StreamInfo is a monitoring snapshot of the stream and its groups.
type StreamInfo struct {
	Stream string      `json:"stream"`
	Length int64       `json:"length"`
	Groups []GroupInfo `json:"groups"`
}

// Info inspects the stream for health checks and operator tooling. A
// stream that does not exist yet reports zero length and no groups.
func Info(ctx context.Context, client StreamClient, stream string) (*StreamInfo, error) {
	length, err := client.XLen(ctx, stream).Result()
	if err != nil {
		return nil, rserrors.NewStreamUnavailable("xlen", err)
	}

	info := &StreamInfo{Stream: stream, Length: length}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		// No groups yet (or stream missing) is not a monitoring failure.
		return info, nil
	}
	for _, g := range groups {
		info.Groups = append(info.Groups, GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return info, nil
}

// Ping verifies the stream transport is reachable.
func Ping(ctx context.Context, client StreamClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return rserrors.NewStreamUnavailable("ping", err)
	}
	return nil
}
