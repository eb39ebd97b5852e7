package bus

import (
	"context"
	"sync"

	"mercato/internal/observability"
	"mercato/internal/transfers/messages"

	"github.com/rs/zerolog"
)

// Responder answers a request in-process. A false return means no reply
// is produced.
type Responder interface {
	Respond(ctx context.Context, req messages.Request) (messages.Reply, bool)
}

// LocalBus is an in-process bus: published requests are answered by a
// Responder and the replies are queued for Run. The queue is unbounded, so
// a handler may publish while it is being run.
type LocalBus struct {
	responder Responder
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	queue  []messages.Reply
	signal chan struct{}
}

// NewLocalBus constructs a bus. A nil responder drops every request, which
// leaves Deliver as the only reply source.
func NewLocalBus(responder Responder, metrics *observability.Metrics, logger zerolog.Logger) *LocalBus {
	return &LocalBus{
		responder: responder,
		metrics:   metrics,
		logger:    logger.With().Str("component", "local-bus").Logger(),
		signal:    make(chan struct{}, 1),
	}
}

func (b *LocalBus) Publish(ctx context.Context, req messages.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.responder == nil {
		return nil
	}
	reply, ok := b.responder.Respond(ctx, req)
	if !ok {
		return nil
	}
	b.enqueue(reply)
	return nil
}

// Deliver queues a reply as if a collaborator had sent it.
func (b *LocalBus) Deliver(reply messages.Reply) {
	b.enqueue(reply)
}

func (b *LocalBus) enqueue(reply messages.Reply) {
	b.mu.Lock()
	b.queue = append(b.queue, reply)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *LocalBus) next() (messages.Reply, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	reply := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return reply, true
}

// Pending reports the number of queued replies.
func (b *LocalBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run delivers queued replies in order until ctx ends. Handler errors are
// logged and the reply is dropped; there is no broker to redeliver from.
func (b *LocalBus) Run(ctx context.Context, handler ReplyHandler) error {
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			reply, ok := b.next()
			if !ok {
				break
			}
			topic := messages.Topic(reply.Kind())
			err := handler(ctx, reply)
			b.metrics.ObserveBusMessage(topic, err)
			if err != nil {
				b.logger.Warn().Err(err).Str("kind", string(reply.Kind())).Str("saga_id", reply.Key()).Msg("reply dropped")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-b.signal:
		}
	}
}
