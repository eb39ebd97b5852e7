package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks a payload that cannot be decoded into its contract.
	ErrMalformed = errors.New("malformed message payload")
	// ErrUnknownKind marks a kind outside the contract set.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Encode serializes a message to its JSON payload.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return data, nil
}

// DecodeReply turns a raw payload into the reply variant named by kind.
func DecodeReply(kind Kind, data []byte) (Reply, error) {
	var (
		reply Reply
		err   error
	)
	switch kind {
	case KindBudgetChecked:
		reply, err = decodeInto[BudgetChecked](kind, data)
	case KindAvailabilityChecked:
		reply, err = decodeInto[AvailabilityChecked](kind, data)
	case KindClubUpdated:
		reply, err = decodeInto[ClubUpdated](kind, data)
	case KindBudgetUpdated:
		reply, err = decodeInto[BudgetUpdated](kind, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// DecodeRequest turns a raw payload into the request variant named by kind.
func DecodeRequest(kind Kind, data []byte) (Request, error) {
	var (
		req Request
		err error
	)
	switch kind {
	case KindCheckBudget:
		req, err = decodeInto[CheckBudget](kind, data)
	case KindCheckAvailability:
		req, err = decodeInto[CheckAvailability](kind, data)
	case KindUpdateClub:
		req, err = decodeInto[UpdateClub](kind, data)
	case KindUpdateBudget:
		req, err = decodeInto[UpdateBudget](kind, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// KindForTopic maps a stream/topic name back to its kind.
func KindForTopic(topic string) (Kind, bool) {
	for _, kind := range append(append([]Kind{}, RequestKinds...), ReplyKinds...) {
		if Topic(kind) == topic {
			return kind, true
		}
	}
	return "", false
}

func decodeInto[T Message](kind Kind, data []byte) (T, error) {
	var msg T
	if len(data) == 0 {
		return msg, fmt.Errorf("%w: empty %s payload", ErrMalformed, kind)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	if strings.TrimSpace(msg.Key()) == "" {
		return msg, fmt.Errorf("%w: %s without sagaId", ErrMalformed, kind)
	}
	if field, ok := missingField(kind, data); ok {
		return msg, fmt.Errorf("%w: %s without %s", ErrMalformed, kind, field)
	}
	return msg, nil
}

// requiredFields lists keys whose absence would otherwise decode as a zero
// value with business meaning (a refusal, or a zero fee).
var requiredFields = map[Kind][]string{
	KindCheckBudget:         {"fee"},
	KindUpdateBudget:        {"fee"},
	KindBudgetChecked:       {"available"},
	KindAvailabilityChecked: {"available"},
	KindClubUpdated:         {"updated"},
	KindBudgetUpdated:       {"updated"},
}

func missingField(kind Kind, data []byte) (string, bool) {
	fields := requiredFields[kind]
	if len(fields) == 0 {
		return "", false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "object", true
	}
	for _, field := range fields {
		value, ok := raw[field]
		if !ok || string(value) == "null" {
			return field, true
		}
	}
	return "", false
}
