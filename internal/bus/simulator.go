package bus

import (
	"context"
	"sync"

	"mercato/internal/transfers/messages"

	"github.com/shopspring/decimal"
)

// Simulator plays the budget, availability and club collaborators for the
// local bus.
type Simulator struct {
	mu            sync.Mutex
	defaultBudget decimal.Decimal
	budgets       map[string]decimal.Decimal
	clubs         map[string]string
	unavailable   map[string]bool
	failures      map[messages.Kind]string
}

// NewSimulator creates a simulator where every unseen org starts with
// defaultBudget.
func NewSimulator(defaultBudget decimal.Decimal) *Simulator {
	return &Simulator{
		defaultBudget: defaultBudget,
		budgets:       make(map[string]decimal.Decimal),
		clubs:         make(map[string]string),
		unavailable:   make(map[string]bool),
		failures:      make(map[messages.Kind]string),
	}
}

// SetBudget overrides an org's balance.
func (s *Simulator) SetBudget(orgID string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[orgID] = amount
}

// Budget returns an org's current balance.
func (s *Simulator) Budget(orgID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetLocked(orgID)
}

// SetUnavailable marks a player as not transferable.
func (s *Simulator) SetUnavailable(playerID string, unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[playerID] = unavailable
}

// Club returns the org the player currently belongs to.
func (s *Simulator) Club(playerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.clubs[playerID]
	return org, ok
}

// FailNext makes the next request of kind be rejected with message.
func (s *Simulator) FailNext(kind messages.Kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = message
}

func (s *Simulator) budgetLocked(orgID string) decimal.Decimal {
	if amount, ok := s.budgets[orgID]; ok {
		return amount
	}
	return s.defaultBudget
}

func (s *Simulator) takeFailure(kind messages.Kind) (string, bool) {
	msg, ok := s.failures[kind]
	if ok {
		delete(s.failures, kind)
	}
	return msg, ok
}

func (s *Simulator) Respond(_ context.Context, req messages.Request) (messages.Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	injected, fail := s.takeFailure(req.Kind())

	switch r := req.(type) {
	case messages.CheckBudget:
		reply := messages.BudgetChecked{SagaID: r.SagaID, OrgID: r.OrgID}
		switch {
		case fail:
			reply.ErrorMessage = injected
		case s.budgetLocked(r.OrgID).LessThan(r.Fee):
			reply.ErrorMessage = "insufficient budget"
		default:
			reply.Available = true
		}
		return reply, true

	case messages.CheckAvailability:
		reply := messages.AvailabilityChecked{SagaID: r.SagaID, PlayerID: r.PlayerID}
		switch {
		case fail:
			reply.ErrorMessage = injected
		case s.unavailable[r.PlayerID]:
			reply.ErrorMessage = "player not available"
		default:
			reply.Available = true
		}
		return reply, true

	case messages.UpdateClub:
		reply := messages.ClubUpdated{SagaID: r.SagaID, PlayerID: r.PlayerID}
		if fail {
			reply.ErrorMessage = injected
			return reply, true
		}
		s.clubs[r.PlayerID] = r.NewOrgID
		reply.Updated = true
		return reply, true

	case messages.UpdateBudget:
		reply := messages.BudgetUpdated{SagaID: r.SagaID, OrgID: r.OrgID}
		balance := s.budgetLocked(r.OrgID)
		switch {
		case fail:
			reply.ErrorMessage = injected
		case balance.LessThan(r.Fee):
			reply.ErrorMessage = "insufficient funds"
		default:
			s.budgets[r.OrgID] = balance.Sub(r.Fee)
			reply.Updated = true
		}
		return reply, true
	}
	return nil, false
}
