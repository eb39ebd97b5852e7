// Package bus carries transfer saga requests to the remote collaborators and
// feeds their replies back to the coordinator. Three drivers are provided:
// Redis Streams consumer groups, Kafka, and an in-process bus.
package bus

import (
	"context"
	"errors"

	"mercato/internal/transfers/messages"
)

// ReplyHandler consumes one decoded reply. A returned error leaves the
// message for redelivery.
type ReplyHandler func(ctx context.Context, reply messages.Reply) error

// Consumer delivers replies to a handler until ctx ends.
type Consumer interface {
	Run(ctx context.Context, handler ReplyHandler) error
}

// Entry field names shared by the Redis and Kafka drivers.
const (
	fieldKind   = "kind"
	fieldSagaID = "saga_id"
	fieldData   = "data"
)

// permanent reports whether a message can never succeed and should go
// straight to the dead-letter destination.
func permanent(err error) bool {
	return errors.Is(err, messages.ErrMalformed) || errors.Is(err, messages.ErrUnknownKind)
}
