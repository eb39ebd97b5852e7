package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// State captures where a transfer saga currently sits in its lifecycle.
type State string

const (
	StateStarted             State = "STARTED"
	StateBudgetChecked       State = "BUDGET_CHECKED"
	StateAvailabilityChecked State = "AVAILABILITY_CHECKED"
	StateClubUpdated         State = "CLUB_UPDATED"
	StateBudgetUpdated       State = "BUDGET_UPDATED"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
)

// successPath lists the states a successful saga visits, in order.
var successPath = []State{
	StateStarted,
	StateBudgetChecked,
	StateAvailabilityChecked,
	StateClubUpdated,
	StateBudgetUpdated,
	StateCompleted,
}

var (
	ErrNotFound          = errors.New("saga not found")
	ErrAlreadyExists     = errors.New("saga already exists")
	ErrVersionConflict   = errors.New("saga version conflict")
	ErrInvalidTransition = errors.New("invalid saga transition")
)

// Terminal reports whether no further mutation is allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	if s == StateFailed {
		return true
	}
	return s.index() >= 0
}

func (s State) index() int {
	for i, candidate := range successPath {
		if candidate == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether from -> to is a legal move. Every non-terminal
// state may jump to FAILED; otherwise only the next success state is allowed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return from.Valid()
	}
	i := from.index()
	return i >= 0 && i+1 < len(successPath) && successPath[i+1] == to
}

// Record is the durable view of one transfer attempt.
type Record struct {
	SagaID       string
	PlayerID     string
	FromOrgID    string
	ToOrgID      string
	TransferFee  decimal.Decimal
	State        State
	ErrorMessage string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Step is one entry of a saga's audit trail.
type Step struct {
	SagaID string
	From   State
	To     State
	Detail string
	At     time.Time
}

// New builds a fresh record in STARTED.
func New(sagaID, playerID, fromOrgID, toOrgID string, fee decimal.Decimal, now time.Time) Record {
	now = now.UTC()
	return Record{
		SagaID:      sagaID,
		PlayerID:    playerID,
		FromOrgID:   fromOrgID,
		ToOrgID:     toOrgID,
		TransferFee: fee,
		State:       StateStarted,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance returns a copy of r moved to the given success state.
func (r Record) Advance(to State, now time.Time) (Record, Step, error) {
	if to == StateFailed {
		return Record{}, Step{}, fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, StateFailed)
	}
	return r.move(to, "", now)
}

// Fail returns a copy of r moved to FAILED with the given message.
func (r Record) Fail(message string, now time.Time) (Record, Step, error) {
	if message == "" {
		return Record{}, Step{}, fmt.Errorf("%w: failure requires a message", ErrInvalidTransition)
	}
	return r.move(StateFailed, message, now)
}

func (r Record) move(to State, message string, now time.Time) (Record, Step, error) {
	if !CanTransition(r.State, to) {
		return Record{}, Step{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}

	// updatedAt must strictly increase; Postgres keeps microseconds.
	at := now.UTC()
	if !at.After(r.UpdatedAt) {
		at = r.UpdatedAt.Add(time.Microsecond)
	}

	next := r
	next.State = to
	next.ErrorMessage = message
	next.Version = r.Version + 1
	next.UpdatedAt = at

	return next, Step{SagaID: r.SagaID, From: r.State, To: to, Detail: message, At: at}, nil
}

// Store persists saga records with per-key compare-and-swap semantics.
type Store interface {
	// Create inserts a new record; ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, record Record) error
	// Get loads a record; ErrNotFound when missing.
	Get(ctx context.Context, sagaID string) (Record, error)
	// Update replaces the record only if its stored version equals
	// expectedVersion, appending steps in the same unit of work.
	Update(ctx context.Context, record Record, expectedVersion int64, steps ...Step) error
	// ListStalled returns non-terminal records last updated before the cutoff.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]Record, error)
}
