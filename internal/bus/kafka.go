package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercato/internal/observability"
	"mercato/internal/transfers/messages"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
)

// messageWriter abstracts kafka.Writer so tests can swap in a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader abstracts a consumer-group kafka.Reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher writes requests to one topic per kind, keyed by saga id so
// every message of a saga lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher constructs a publisher against the given brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: newKafkaWriter(brokers)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg messages.Request) error {
	data, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	topic := messages.Topic(msg.Kind())
	if topic == "" {
		return fmt.Errorf("%w: %q", messages.ErrUnknownKind, msg.Kind())
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key()),
		Value:   data,
		Headers: []kafka.Header{{Key: fieldKind, Value: []byte(msg.Kind())}},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumerOptions tunes redelivery of failed replies.
type KafkaConsumerOptions struct {
	MaxRetries int
	RetryDelay time.Duration
}

var DefaultKafkaConsumerOptions = KafkaConsumerOptions{
	MaxRetries: 3,
	RetryDelay: 500 * time.Millisecond,
}

// KafkaConsumer reads every reply topic through one consumer group. Offsets
// are committed only after the handler succeeds or the message has been
// copied to "<topic>.dlq".
type KafkaConsumer struct {
	reader  messageReader
	dlq     messageWriter
	opts    KafkaConsumerOptions
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewKafkaConsumer joins groupID on all reply topics.
func NewKafkaConsumer(brokers []string, groupID string, opts *KafkaConsumerOptions, metrics *observability.Metrics, logger zerolog.Logger) *KafkaConsumer {
	topics := make([]string, 0, len(messages.ReplyKinds))
	for _, kind := range messages.ReplyKinds {
		topics = append(topics, messages.Topic(kind))
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaConsumer(reader, newKafkaWriter(brokers), opts, metrics, logger)
}

func newKafkaConsumer(reader messageReader, dlq messageWriter, opts *KafkaConsumerOptions, metrics *observability.Metrics, logger zerolog.Logger) *KafkaConsumer {
	o := DefaultKafkaConsumerOptions
	if opts != nil {
		o = *opts
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
	return &KafkaConsumer{
		reader:  reader,
		dlq:     dlq,
		opts:    o,
		metrics: metrics,
		logger:  logger.With().Str("component", "kafka-consumer").Logger(),
	}
}

func (c *KafkaConsumer) Run(ctx context.Context, handler ReplyHandler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.process(ctx, m, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
	}
}

// process handles m with bounded retries. A nil return means the offset can
// be committed.
func (c *KafkaConsumer) process(ctx context.Context, m kafka.Message, handler ReplyHandler) error {
	reply, err := decodeKafkaMessage(m)
	if err != nil {
		c.metrics.ObserveBusMessage(m.Topic, err)
		return c.deadLetter(ctx, m, err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		lastErr = handler(ctx, reply)
		c.metrics.ObserveBusMessage(m.Topic, lastErr)
		if lastErr == nil {
			return nil
		}
		if permanent(lastErr) {
			return c.deadLetter(ctx, m, lastErr.Error())
		}
		c.logger.Warn().Err(lastErr).Str("topic", m.Topic).Int64("offset", m.Offset).Int("attempt", attempt).Msg("reply handling failed")
		if attempt < c.opts.MaxRetries {
			if err := sleepContext(ctx, c.opts.RetryDelay); err != nil {
				return err
			}
		}
	}
	return c.deadLetter(ctx, m, fmt.Sprintf("max retries exceeded: %v", lastErr))
}

func decodeKafkaMessage(m kafka.Message) (messages.Reply, error) {
	var kind messages.Kind
	for _, h := range m.Headers {
		if h.Key == fieldKind {
			kind = messages.Kind(h.Value)
		}
	}
	if kind == "" {
		k, ok := messages.KindForTopic(m.Topic)
		if !ok {
			return nil, fmt.Errorf("%w: topic %s", messages.ErrUnknownKind, m.Topic)
		}
		kind = k
	}
	return messages.DecodeReply(kind, m.Value)
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, m kafka.Message, reason string) error {
	topic := m.Topic + ".dlq"
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers, kafka.Header{Key: "reason", Value: []byte(reason)})
	if err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", topic, err)
	}
	c.metrics.ObserveDLQ(m.Topic)
	c.logger.Warn().Str("topic", m.Topic).Int64("offset", m.Offset).Str("reason", reason).Msg("reply moved to dead-letter topic")
	return nil
}

func (c *KafkaConsumer) Close() error {
	return errors.Join(c.reader.Close(), c.dlq.Close())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
