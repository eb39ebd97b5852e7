package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercato/internal/observability"
	"mercato/internal/transfers/messages"
	"mercato/internal/transfers/saga"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownReply is returned by Handle for a reply outside the contract set.
var ErrUnknownReply = errors.New("unknown reply variant")

// Fallback failure messages when a collaborator rejects without explanation.
const (
	msgBudgetUnavailable = "club budget not available"
	msgPlayerUnavailable = "player not available"
	msgClubNotUpdated    = "unable to update player club"
	msgBudgetNotUpdated  = "unable to update club budget"
)

// Publisher emits step requests to the remote collaborators.
type Publisher interface {
	Publish(ctx context.Context, msg messages.Request) error
}

// Notifier is told about every persisted saga change.
type Notifier interface {
	SagaChanged(ctx context.Context, record saga.Record)
}

// Coordinator drives transfer sagas through their state machine. It keeps no
// per-saga state; every handler is a read, decide, compare-and-swap, emit cycle
// against the store.
type Coordinator struct {
	store     saga.Store
	publisher Publisher
	notifier  Notifier
	metrics   *observability.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithNotifier(n Notifier) CoordinatorOption {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m *observability.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store saga.Store, publisher Publisher, logger zerolog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "saga-coordinator").Logger(),
		tracer:    otel.Tracer("mercato/transfers"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start emits the budget check for a freshly created saga.
func (c *Coordinator) Start(ctx context.Context, record saga.Record) error {
	ctx, span := c.tracer.Start(ctx, "transfers.Start", trace.WithAttributes(attribute.String("saga.id", record.SagaID)))
	defer span.End()

	if record.State != saga.StateStarted {
		err := fmt.Errorf("%w: start from %s", saga.ErrInvalidTransition, record.State)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.notify(ctx, record)
	if err := c.emit(ctx, messages.CheckBudget{
		SagaID: record.SagaID,
		OrgID:  record.FromOrgID,
		Fee:    record.TransferFee,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Handle dispatches a reply to its handler.
func (c *Coordinator) Handle(ctx context.Context, reply messages.Reply) error {
	switch r := reply.(type) {
	case messages.BudgetChecked:
		return c.OnBudgetChecked(ctx, r)
	case messages.AvailabilityChecked:
		return c.OnAvailabilityChecked(ctx, r)
	case messages.ClubUpdated:
		return c.OnClubUpdated(ctx, r)
	case messages.BudgetUpdated:
		return c.OnBudgetUpdated(ctx, r)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownReply, reply)
	}
}

func (c *Coordinator) OnBudgetChecked(ctx context.Context, reply messages.BudgetChecked) error {
	return c.advance(ctx, reply, saga.StateStarted, func(rec saga.Record, now time.Time) (decision, error) {
		if !reply.Available {
			return fail(rec, failureMessage(reply.ErrorMessage, msgBudgetUnavailable), now, nil)
		}
		return step(rec, saga.StateBudgetChecked, now, messages.CheckAvailability{
			SagaID:   rec.SagaID,
			PlayerID: rec.PlayerID,
			ToOrgID:  rec.ToOrgID,
		})
	})
}

func (c *Coordinator) OnAvailabilityChecked(ctx context.Context, reply messages.AvailabilityChecked) error {
	return c.advance(ctx, reply, saga.StateBudgetChecked, func(rec saga.Record, now time.Time) (decision, error) {
		if !reply.Available {
			return fail(rec, failureMessage(reply.ErrorMessage, msgPlayerUnavailable), now, nil)
		}
		return step(rec, saga.StateAvailabilityChecked, now, messages.UpdateClub{
			SagaID:   rec.SagaID,
			PlayerID: rec.PlayerID,
			NewOrgID: rec.ToOrgID,
		})
	})
}

func (c *Coordinator) OnClubUpdated(ctx context.Context, reply messages.ClubUpdated) error {
	return c.advance(ctx, reply, saga.StateAvailabilityChecked, func(rec saga.Record, now time.Time) (decision, error) {
		if !reply.Updated {
			return fail(rec, failureMessage(reply.ErrorMessage, msgClubNotUpdated), now, nil)
		}
		return step(rec, saga.StateClubUpdated, now, messages.UpdateBudget{
			SagaID: rec.SagaID,
			OrgID:  rec.FromOrgID,
			Fee:    rec.TransferFee,
		})
	})
}

// OnBudgetUpdated finishes the saga. A refused budget update is the one point
// where the club change has already happened, so it is reverted.
func (c *Coordinator) OnBudgetUpdated(ctx context.Context, reply messages.BudgetUpdated) error {
	return c.advance(ctx, reply, saga.StateClubUpdated, func(rec saga.Record, now time.Time) (decision, error) {
		if !reply.Updated {
			return fail(rec, failureMessage(reply.ErrorMessage, msgBudgetNotUpdated), now, messages.UpdateClub{
				SagaID:   rec.SagaID,
				PlayerID: rec.PlayerID,
				NewOrgID: rec.FromOrgID,
			})
		}

		updated, first, err := rec.Advance(saga.StateBudgetUpdated, now)
		if err != nil {
			return decision{}, err
		}
		completed, second, err := updated.Advance(saga.StateCompleted, now)
		if err != nil {
			return decision{}, err
		}
		return decision{next: completed, steps: []saga.Step{first, second}}, nil
	})
}

// Expire fails a saga that has not moved since record was read. No
// compensation is emitted because the in-flight step's outcome is unknown.
// It reports false when the saga moved on in the meantime.
func (c *Coordinator) Expire(ctx context.Context, record saga.Record) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "transfers.Expire", trace.WithAttributes(attribute.String("saga.id", record.SagaID)))
	defer span.End()

	next, s, err := record.Fail(fmt.Sprintf("saga stalled in state %s", record.State), c.now())
	if err != nil {
		return false, err
	}
	if err := c.store.Update(ctx, next, record.Version, s); err != nil {
		if errors.Is(err, saga.ErrVersionConflict) || errors.Is(err, saga.ErrNotFound) {
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("expire saga %s: %w", record.SagaID, err)
	}

	c.metrics.ObserveTransition(string(s.From), string(s.To))
	c.metrics.ObserveExpired()
	c.logger.Warn().Str("saga_id", record.SagaID).Str("from", string(record.State)).Msg("stalled saga expired")
	c.notify(ctx, next)
	return true, nil
}

// decision is the outcome of one handler: the record to persist, the audit
// steps that explain it and at most one request to emit afterwards.
type decision struct {
	next  saga.Record
	steps []saga.Step
	emit  messages.Request
}

func step(rec saga.Record, to saga.State, now time.Time, emit messages.Request) (decision, error) {
	next, s, err := rec.Advance(to, now)
	if err != nil {
		return decision{}, err
	}
	return decision{next: next, steps: []saga.Step{s}, emit: emit}, nil
}

func fail(rec saga.Record, message string, now time.Time, compensation messages.Request) (decision, error) {
	next, s, err := rec.Fail(message, now)
	if err != nil {
		return decision{}, err
	}
	return decision{next: next, steps: []saga.Step{s}, emit: compensation}, nil
}

func failureMessage(reported, fallback string) string {
	if reported != "" {
		return reported
	}
	return fallback
}

func (c *Coordinator) advance(ctx context.Context, reply messages.Reply, expect saga.State, decide func(saga.Record, time.Time) (decision, error)) error {
	kind := string(reply.Kind())
	sagaID := reply.Key()

	ctx, span := c.tracer.Start(ctx, "transfers.On"+kind, trace.WithAttributes(
		attribute.String("saga.id", sagaID),
		attribute.String("saga.expected_state", string(expect)),
	))
	defer span.End()

	log := c.logger.With().Str("saga_id", sagaID).Str("reply", kind).Logger()

	rec, err := c.store.Get(ctx, sagaID)
	if errors.Is(err, saga.ErrNotFound) {
		log.Warn().Msg("reply for unknown saga discarded")
		c.metrics.ObserveDiscard(kind, "unknown")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load saga %s: %w", sagaID, err)
	}

	if rec.State != expect {
		reason := "stale"
		if rec.State.Terminal() {
			reason = "terminal"
		}
		log.Warn().Str("state", string(rec.State)).Str("expected", string(expect)).Msg("out of order reply discarded")
		c.metrics.ObserveDiscard(kind, reason)
		return nil
	}

	d, err := decide(rec, c.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("decide saga %s: %w", sagaID, err)
	}

	if err := c.store.Update(ctx, d.next, rec.Version, d.steps...); err != nil {
		if errors.Is(err, saga.ErrVersionConflict) {
			log.Warn().Int64("version", rec.Version).Msg("concurrent update won, reply discarded")
			c.metrics.ObserveDiscard(kind, "conflict")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("persist saga %s: %w", sagaID, err)
	}

	for _, s := range d.steps {
		c.metrics.ObserveTransition(string(s.From), string(s.To))
	}
	span.SetAttributes(attribute.String("saga.state", string(d.next.State)))

	if d.next.State == saga.StateFailed {
		log.Warn().Str("from", string(rec.State)).Str("error_message", d.next.ErrorMessage).Msg("saga failed")
	} else {
		log.Info().Str("from", string(rec.State)).Str("to", string(d.next.State)).Msg("saga advanced")
	}

	c.notify(ctx, d.next)

	if d.emit == nil {
		return nil
	}
	if err := c.emit(ctx, d.emit); err != nil {
		// The record is already committed; redelivery of this reply will be
		// discarded as stale, leaving the saga for the watchdog.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("request", string(d.emit.Kind())).Msg("emit after persist failed")
		return err
	}
	return nil
}

func (c *Coordinator) emit(ctx context.Context, req messages.Request) error {
	err := c.publisher.Publish(ctx, req)
	c.metrics.ObservePublish(string(req.Kind()), err)
	if err != nil {
		return fmt.Errorf("publish %s for saga %s: %w", req.Kind(), req.Key(), err)
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, record saga.Record) {
	if c.notifier != nil {
		c.notifier.SagaChanged(ctx, record)
	}
}
