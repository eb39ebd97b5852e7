package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercato/internal/observability"
	"mercato/internal/transfers/messages"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConsumerOptions tunes the consumer group loop.
type RedisConsumerOptions struct {
	BatchSize            int
	BlockTime            time.Duration
	MaxRetries           int
	ClaimMinIdle         time.Duration
	PendingCheckInterval time.Duration
}

var DefaultRedisConsumerOptions = RedisConsumerOptions{
	BatchSize:            10,
	BlockTime:            5 * time.Second,
	MaxRetries:           3,
	ClaimMinIdle:         30 * time.Second,
	PendingCheckInterval: 30 * time.Second,
}

// RedisConsumer reads reply streams through a consumer group. Handled
// entries are acked; failed ones stay pending, are reclaimed after
// ClaimMinIdle, and move to "<stream>:dlq" after MaxRetries deliveries.
type RedisConsumer struct {
	client   redis.Cmdable
	group    string
	consumer string
	streams  []string
	opts     RedisConsumerOptions
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewRedisConsumer constructs a consumer for every reply stream.
func NewRedisConsumer(client redis.Cmdable, group, consumer string, opts *RedisConsumerOptions, metrics *observability.Metrics, logger zerolog.Logger) *RedisConsumer {
	o := DefaultRedisConsumerOptions
	if opts != nil {
		o = *opts
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultRedisConsumerOptions.BatchSize
	}
	if o.PendingCheckInterval <= 0 {
		o.PendingCheckInterval = DefaultRedisConsumerOptions.PendingCheckInterval
	}
	streams := make([]string, 0, len(messages.ReplyKinds))
	for _, kind := range messages.ReplyKinds {
		streams = append(streams, messages.Topic(kind))
	}
	return &RedisConsumer{
		client:   client,
		group:    group,
		consumer: consumer,
		streams:  streams,
		opts:     o,
		metrics:  metrics,
		logger:   logger.With().Str("component", "redis-consumer").Str("group", group).Str("consumer", consumer).Logger(),
	}
}

// Run creates the groups, drains pending entries, then consumes new ones.
func (c *RedisConsumer) Run(ctx context.Context, handler ReplyHandler) error {
	if err := c.ensureGroups(ctx); err != nil {
		return err
	}
	if err := c.processPending(ctx, handler); err != nil {
		return fmt.Errorf("process pending: %w", err)
	}
	return c.consume(ctx, handler)
}

func (c *RedisConsumer) ensureGroups(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", stream, err)
		}
	}
	return nil
}

func (c *RedisConsumer) consume(ctx context.Context, handler ReplyHandler) error {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	pendingTicker := time.NewTicker(c.opts.PendingCheckInterval)
	defer pendingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pendingTicker.C:
			if err := c.processPending(ctx, handler); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("process pending failed")
			}
		default:
		}

		results, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    int64(c.opts.BatchSize),
			Block:    c.opts.BlockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, result := range results {
			for _, m := range result.Messages {
				if err := c.processMessage(ctx, result.Stream, m, handler); err != nil {
					c.logger.Warn().Err(err).Str("stream", result.Stream).Str("id", m.ID).Msg("reply left pending")
				}
			}
		}
	}
}

func (c *RedisConsumer) processPending(ctx context.Context, handler ReplyHandler) error {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  int64(c.opts.BatchSize),
		}).Result()
		if err != nil {
			return fmt.Errorf("xpending %s: %w", stream, err)
		}
		ids := make([]string, 0, len(pending))
		exhausted := make(map[string]int64)
		for _, p := range pending {
			if p.Idle < c.opts.ClaimMinIdle {
				continue
			}
			ids = append(ids, p.ID)
			if c.opts.MaxRetries > 0 && p.RetryCount > int64(c.opts.MaxRetries) {
				exhausted[p.ID] = p.RetryCount
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.opts.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim %s: %w", stream, err)
		}

		for _, m := range claimed {
			if retries, ok := exhausted[m.ID]; ok {
				if err := c.deadLetter(ctx, stream, m, fmt.Sprintf("max retries exceeded: %d", retries)); err != nil {
					c.logger.Error().Err(err).Str("id", m.ID).Msg("dead-letter failed")
				}
				continue
			}
			if err := c.processMessage(ctx, stream, m, handler); err != nil {
				c.logger.Warn().Err(err).Str("stream", stream).Str("id", m.ID).Msg("pending reply failed again")
			}
		}
	}
	return nil
}

func (c *RedisConsumer) processMessage(ctx context.Context, stream string, m redis.XMessage, handler ReplyHandler) error {
	reply, err := decodeEntry(stream, m.Values)
	if err != nil {
		c.metrics.ObserveBusMessage(stream, err)
		return c.deadLetter(ctx, stream, m, err.Error())
	}

	if err := handler(ctx, reply); err != nil {
		c.metrics.ObserveBusMessage(stream, err)
		if permanent(err) {
			return c.deadLetter(ctx, stream, m, err.Error())
		}
		return err
	}

	c.metrics.ObserveBusMessage(stream, nil)
	return c.client.XAck(ctx, stream, c.group, m.ID).Err()
}

func decodeEntry(stream string, values map[string]any) (messages.Reply, error) {
	data, ok := values[fieldData].(string)
	if !ok {
		return nil, fmt.Errorf("%w: entry without %s field", messages.ErrMalformed, fieldData)
	}
	kind, _ := values[fieldKind].(string)
	if kind == "" {
		k, ok := messages.KindForTopic(stream)
		if !ok {
			return nil, fmt.Errorf("%w: stream %s", messages.ErrUnknownKind, stream)
		}
		kind = string(k)
	}
	return messages.DecodeReply(messages.Kind(kind), []byte(data))
}

// deadLetter copies the entry to "<stream>:dlq" and acks the original.
func (c *RedisConsumer) deadLetter(ctx context.Context, stream string, m redis.XMessage, reason string) error {
	dlq := stream + ":dlq"
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq,
		Values: []any{
			"stream", stream,
			"msg_id", m.ID,
			"reason", reason,
			fieldData, m.Values[fieldData],
			"group", c.group,
			"consumer", c.consumer,
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", dlq, err)
	}
	c.metrics.ObserveDLQ(stream)
	c.logger.Warn().Str("stream", stream).Str("id", m.ID).Str("reason", reason).Msg("reply moved to dead-letter stream")
	return c.client.XAck(ctx, stream, c.group, m.ID).Err()
}
