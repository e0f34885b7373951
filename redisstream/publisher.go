package redisstream

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
)

// Publisher appends committed session events onto the shared stream,
// trimming it to a bounded length on every write. Publishing is strictly
// best-effort: the event is already durable by the time Publish runs, so a
// transport failure is reported as a StreamUnavailableError for the caller
// to recover locally, never to roll back the commit.
type Publisher struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewPublisher creates a Publisher for the named stream. maxLen bounds the
// retained stream length (approximate trim, enforced on every publish).
func NewPublisher(client StreamClient, stream string, maxLen int64) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish serializes the event and appends it to the stream, returning the
// stream-assigned message id. The returned error, when non-nil, is always a
// *StreamUnavailableError: the write is best-effort and the committed event
// stands regardless.
func (p *Publisher) Publish(ctx context.Context, ev *domain.SessionEvent) (string, error) {
	values, err := encodeEvent(ev)
	if err != nil {
		return "", rserrors.NewStreamUnavailable("encode", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		log.Error().Err(err).
			Str("stream", p.stream).
			Str("event_id", ev.EventID).
			Msg("Failed to publish event to stream")
		return "", rserrors.NewStreamUnavailable("xadd", err)
	}

	log.Debug().
		Str("stream", p.stream).
		Str("event_id", ev.EventID).
		Str("message_id", id).
		Msg("Published event to stream")
	return id, nil
}
