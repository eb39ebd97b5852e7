package bus

import (
	"context"
	"fmt"
	"time"

	"mercato/internal/transfers/messages"

	"github.com/redis/go-redis/v9"
)

// RedisPipelineClient is the minimal client surface used by RedisPublisher.
type RedisPipelineClient interface {
	Pipeline() redis.Pipeliner
}

// RedisPublisher appends requests to one stream per message kind and keeps a
// short-lived "last request" hash per saga for operators.
type RedisPublisher struct {
	client    RedisPipelineClient
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
	now       func() time.Time
}

// NewRedisPublisher constructs a Redis Streams publisher. A zero ttl skips
// the per-saga hash; a zero maxLen leaves streams untrimmed.
func NewRedisPublisher(client RedisPipelineClient, ttl time.Duration, maxLen int64) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		keyPrefix: "transfer-saga:",
		ttl:       ttl,
		maxLen:    maxLen,
		now:       time.Now,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg messages.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	stream := messages.Topic(msg.Kind())
	if stream == "" {
		return fmt.Errorf("%w: %q", messages.ErrUnknownKind, msg.Kind())
	}

	pipe := p.client.Pipeline()
	args := &redis.XAddArgs{
		Stream: stream,
		Values: []any{
			fieldKind, string(msg.Kind()),
			fieldSagaID, msg.Key(),
			fieldData, string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	if p.ttl > 0 {
		key := p.keyPrefix + msg.Key()
		pipe.HSet(ctx, key, map[string]any{
			"last_request": string(msg.Kind()),
			"last_stream":  stream,
			"sent_at":      p.now().UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, p.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
