// Package stream carries audit events and run requests over Redis Streams.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"cleanup_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// StreamAudit receives one event per ledger transition and per finished run.
	StreamAudit = "cleanup:audit"
	// StreamRunRequests receives run triggers from other processes.
	StreamRunRequests = "cleanup:runs"
)

type RedisStream struct {
	client *redis.Client
	group  string
	log    zerolog.Logger
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return &RedisStream{
		client: client,
		group:  group,
		log:    logger.Component("stream"),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Publish appends data as JSON. maxLen > 0 trims the stream approximately.
func (s *RedisStream) Publish(ctx context.Context, stream string, maxLen int64, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": payload},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Result()
}

// Consume blocks until ctx is done. Messages are acked only when handler succeeds.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(ctx context.Context, id string, data []byte) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("stream", stream).Msg("stream read failed")
				time.Sleep(time.Second)
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					s.log.Warn().Str("id", msg.ID).Msg("stream message without data, dropping")
					_ = s.client.XAck(ctx, st.Stream, s.group, msg.ID).Err()
					continue
				}
				if err := handler(ctx, msg.ID, []byte(data)); err != nil {
					s.log.Error().Err(err).Str("id", msg.ID).Msg("stream handler failed")
					continue
				}
				if err := s.client.XAck(ctx, st.Stream, s.group, msg.ID).Err(); err != nil {
					s.log.Warn().Err(err).Str("id", msg.ID).Msg("ack failed")
				}
			}
		}
	}
}
