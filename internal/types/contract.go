package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Direction is the bettable outcome a signal proposes.
type Direction string

const (
	DirectionEven  Direction = "EVEN"
	DirectionOdd   Direction = "ODD"
	DirectionUnder Direction = "UNDER"
	DirectionOver  Direction = "OVER"
	DirectionRise  Direction = "RISE"
	DirectionFall  Direction = "FALL"
)

// DirectionFromParity maps a parity outcome to its contract direction.
func DirectionFromParity(p Parity) Direction {
	if p == ParityEven {
		return DirectionEven
	}

	return DirectionOdd
}

// Opposite returns the contrary direction for parity contracts. Under/over
// directions have no opposite in this system and are returned unchanged.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionEven:
		return DirectionOdd
	case DirectionOdd:
		return DirectionEven
	case DirectionRise:
		return DirectionFall
	case DirectionFall:
		return DirectionRise
	default:
		return d
	}
}

// ContractKind selects the contract family a signal wants to enter.
type ContractKind string

const (
	// ContractKindParity bets on the last digit being even or odd.
	ContractKindParity ContractKind = "DIGIT_PARITY"
	// ContractKindUnderOver bets on the last digit being under/over a barrier.
	// Used by recovery overrides for its higher payout.
	ContractKindUnderOver ContractKind = "DIGIT_UNDER_OVER"
	// ContractKindRiseFall bets on the close being above/below the entry spot.
	ContractKindRiseFall ContractKind = "RISE_FALL"
)

// Signal is a directional entry proposal produced by a signal policy.
type Signal struct {
	// Direction is the proposed contract direction.
	Direction Direction
	// Kind is the contract family to enter.
	Kind ContractKind
	// Barrier is the digit barrier for under/over contracts; ignored for parity.
	Barrier int
	// Strength is the policy's confidence in [0, 1].
	Strength float64
	// Rationale is a human-readable explanation for logs and notifications.
	Rationale string
	// Policy is the name of the policy that produced the signal.
	Policy string
}

// Proposal is the broker's priced quote for a prospective contract.
type Proposal struct {
	ID         string
	AskPrice   decimal.Decimal
	Payout     decimal.Decimal
	SpotPrice  float64
	ReceivedAt time.Time
}

// PendingOrder exists between proposal acceptance and settlement.
type PendingOrder struct {
	SessionID   string
	ProposalID  string
	Price       decimal.Decimal
	Stake       decimal.Decimal
	RequestedAt time.Time
	// ContractID is assigned by the broker on purchase; absent until the buy
	// acknowledgement arrives.
	ContractID optional.Option[string]
}

// Settlement is the terminal outcome of an open contract.
type Settlement struct {
	ContractID string
	Profit     decimal.Decimal
	ExitPrice  float64
	Won        bool
	SoldAt     time.Time
}
