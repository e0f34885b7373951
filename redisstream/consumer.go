package redisstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	rserrors "go.pilab.hu/radsync/errors"
)

// Handler processes one delivered stream message. Returning nil
// acknowledges the message; returning an error leaves it pending for
// redelivery. Handlers must de-duplicate using Message.EventID, since
// delivery is at-least-once.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig tunes one consumer-group reader.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds each blocking read so the loop gets a liveness tick even
	// when the stream is quiet.
	Block time.Duration
	// Count caps the messages fetched per read.
	Count int64
	// MaxErrors is the consecutive transient-error budget; exceeding it
	// stops the loop with a ConsumerFatalError.
	MaxErrors int
	Backoff    time.Duration
	BackoffCap time.Duration
}

// Consumer reads the stream through a named consumer group: each message
// goes to exactly one consumer per group, is acknowledged after the handler
// returns without error, and is left pending for reclamation otherwise.
type Consumer struct {
	client StreamClient
	cfg    ConsumerConfig

	// OnIdle, when set, is invoked each time a blocking read times out with
	// no messages, giving the owner a keep-alive tick.
	OnIdle func(ctx context.Context)

	sleep sleepFunc
}

// NewConsumer creates a Consumer. Zero config fields fall back to the
// values the system has always run with.
func NewConsumer(client StreamClient, cfg ConsumerConfig) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &Consumer{
		client: client,
		cfg:    cfg,
		sleep:  contextSleep,
	}
}

// EnsureGroup idempotently creates the consumer group from the beginning of
// the stream, creating the stream itself if needed. An already-existing
// group is not an error and never resets the group's cursor.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			log.Debug().
				Str("stream", c.cfg.Stream).
				Str("group", c.cfg.Group).
				Msg("Consumer group already exists")
			return nil
		}
		return rserrors.NewStreamUnavailable("xgroup create", err)
	}
	log.Info().
		Str("stream", c.cfg.Stream).
		Str("group", c.cfg.Group).
		Msg("Created consumer group")
	return nil
}

// Run consumes the stream until ctx is cancelled. Cancellation is the
// normal termination path and returns nil; exhausting the transient-error
// budget returns a ConsumerFatalError for the owning supervisor.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	log.Info().
		Str("stream", c.cfg.Stream).
		Str("group", c.cfg.Group).
		Str("consumer", c.cfg.Consumer).
		Msg("Starting stream consumer")

	bo := newBackoff(c.cfg.Backoff, c.cfg.BackoffCap, c.cfg.MaxErrors)

	for {
		if ctx.Err() != nil {
			log.Info().Str("consumer", c.cfg.Consumer).Msg("Stream consumer cancelled")
			return nil
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()

		switch {
		case err == nil:
			bo.reset()
			c.deliver(ctx, streams, handler)

		case errors.Is(err, redis.Nil):
			// Blocking read timed out with nothing new.
			bo.reset()
			if c.OnIdle != nil {
				c.OnIdle(ctx)
			}

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			log.Info().Str("consumer", c.cfg.Consumer).Msg("Stream consumer cancelled")
			return nil

		default:
			wait, ok := bo.next()
			log.Error().Err(err).
				Int("consecutive_errors", bo.attempts).
				Str("consumer", c.cfg.Consumer).
				Msg("Error reading stream")
			if !ok {
				return rserrors.NewConsumerFatal(c.cfg.Consumer, bo.attempts, err)
			}
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil
			}
		}
	}
}

// deliver hands each fetched message to the handler, acknowledging only the
// ones processed without error. Messages that cannot be decoded are
// acknowledged and skipped: redelivery would never repair them.
func (c *Consumer) deliver(ctx context.Context, streams []redis.XStream, handler Handler) {
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, err := decodeMessage(raw.ID, raw.Values)
			if err != nil {
				log.Warn().Err(err).Str("message_id", raw.ID).Msg("Skipping undecodable stream message")
				c.ack(ctx, raw.ID)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				// Not acknowledged: stays pending until reclaimed.
				log.Error().Err(err).
					Str("message_id", msg.ID).
					Str("event_id", msg.EventID).
					Msg("Handler failed, leaving message pending")
				continue
			}

			c.ack(ctx, raw.ID)
		}
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("Failed to acknowledge message")
	}
}
