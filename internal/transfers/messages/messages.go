// Package messages defines the request and reply contracts exchanged with the
// budget, availability and club services. Every message is correlated by sagaId.
package messages

import "github.com/shopspring/decimal"

// Kind names a message contract on the wire.
type Kind string

const (
	KindCheckBudget       Kind = "CheckBudget"
	KindCheckAvailability Kind = "CheckAvailability"
	KindUpdateClub        Kind = "UpdateClub"
	KindUpdateBudget      Kind = "UpdateBudget"

	KindBudgetChecked       Kind = "BudgetChecked"
	KindAvailabilityChecked Kind = "AvailabilityChecked"
	KindClubUpdated         Kind = "ClubUpdated"
	KindBudgetUpdated       Kind = "BudgetUpdated"
)

// RequestKinds lists every outbound contract.
var RequestKinds = []Kind{KindCheckBudget, KindCheckAvailability, KindUpdateClub, KindUpdateBudget}

// ReplyKinds lists every inbound contract.
var ReplyKinds = []Kind{KindBudgetChecked, KindAvailabilityChecked, KindClubUpdated, KindBudgetUpdated}

// Topic is the stream/topic a kind travels on.
func Topic(kind Kind) string {
	switch kind {
	case KindCheckBudget:
		return "transfers.check-club-budget.request"
	case KindCheckAvailability:
		return "transfers.check-player-availability.request"
	case KindUpdateClub:
		return "transfers.update-player-club.request"
	case KindUpdateBudget:
		return "transfers.update-club-budget.request"
	case KindBudgetChecked:
		return "transfers.check-club-budget.reply"
	case KindAvailabilityChecked:
		return "transfers.check-player-availability.reply"
	case KindClubUpdated:
		return "transfers.update-player-club.reply"
	case KindBudgetUpdated:
		return "transfers.update-club-budget.reply"
	default:
		return ""
	}
}

// Message is implemented by every contract.
type Message interface {
	Kind() Kind
	// Key returns the sagaId, used for routing and partitioning.
	Key() string
}

// Request is a message the coordinator emits. The set is closed.
type Request interface {
	Message
	request()
}

// Reply is a message the coordinator consumes. The set is closed.
type Reply interface {
	Message
	reply()
}

type CheckBudget struct {
	SagaID string          `json:"sagaId"`
	OrgID  string          `json:"orgId"`
	Fee    decimal.Decimal `json:"fee"`
}

type CheckAvailability struct {
	SagaID   string `json:"sagaId"`
	PlayerID string `json:"playerId"`
	ToOrgID  string `json:"toOrgId"`
}

// UpdateClub moves a player to NewOrgID. It doubles as the compensating
// request when NewOrgID is the selling organization.
type UpdateClub struct {
	SagaID   string `json:"sagaId"`
	PlayerID string `json:"playerId"`
	NewOrgID string `json:"newOrgId"`
}

type UpdateBudget struct {
	SagaID string          `json:"sagaId"`
	OrgID  string          `json:"orgId"`
	Fee    decimal.Decimal `json:"fee"`
}

type BudgetChecked struct {
	SagaID       string `json:"sagaId"`
	OrgID        string `json:"orgId"`
	Available    bool   `json:"available"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type AvailabilityChecked struct {
	SagaID       string `json:"sagaId"`
	PlayerID     string `json:"playerId"`
	Available    bool   `json:"available"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type ClubUpdated struct {
	SagaID       string `json:"sagaId"`
	PlayerID     string `json:"playerId"`
	Updated      bool   `json:"updated"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type BudgetUpdated struct {
	SagaID       string `json:"sagaId"`
	OrgID        string `json:"orgId"`
	Updated      bool   `json:"updated"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (CheckBudget) Kind() Kind       { return KindCheckBudget }
func (CheckAvailability) Kind() Kind { return KindCheckAvailability }
func (UpdateClub) Kind() Kind        { return KindUpdateClub }
func (UpdateBudget) Kind() Kind      { return KindUpdateBudget }

func (m CheckBudget) Key() string       { return m.SagaID }
func (m CheckAvailability) Key() string { return m.SagaID }
func (m UpdateClub) Key() string        { return m.SagaID }
func (m UpdateBudget) Key() string      { return m.SagaID }

func (CheckBudget) request()       {}
func (CheckAvailability) request() {}
func (UpdateClub) request()        {}
func (UpdateBudget) request()      {}

func (BudgetChecked) Kind() Kind       { return KindBudgetChecked }
func (AvailabilityChecked) Kind() Kind { return KindAvailabilityChecked }
func (ClubUpdated) Kind() Kind         { return KindClubUpdated }
func (BudgetUpdated) Kind() Kind       { return KindBudgetUpdated }

func (m BudgetChecked) Key() string       { return m.SagaID }
func (m AvailabilityChecked) Key() string { return m.SagaID }
func (m ClubUpdated) Key() string         { return m.SagaID }
func (m BudgetUpdated) Key() string       { return m.SagaID }

func (BudgetChecked) reply()       {}
func (AvailabilityChecked) reply() {}
func (ClubUpdated) reply()         {}
func (BudgetUpdated) reply()       {}
