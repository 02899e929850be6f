package risk

import (
	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/internal/types"
)

// State is the per-session capital and streak state the manager sizes stakes
// from. It is owned and mutated by exactly one session worker.
type State struct {
	CapitalInitial decimal.Decimal
	Balance        decimal.Decimal
	BaseStake      decimal.Decimal
	Profile        types.RiskProfile
	ProfitTarget   decimal.Decimal
	StopLossLimit  decimal.Decimal
	ShieldEnabled  bool

	ConsecutiveLosses int
	AccumulatedLoss   decimal.Decimal
	ConsecutiveWins   int
	LastProfit        decimal.Decimal

	ProfitPeak   decimal.Decimal
	ShieldActive bool
}

// NewState builds the initial risk state from a validated activation request.
func NewState(req types.ActivationRequest) *State {
	balance := decimal.NewFromFloat(req.InitialBalance)

	return &State{
		CapitalInitial:    balance,
		Balance:           balance,
		BaseStake:         decimal.NewFromFloat(req.BaseStake),
		Profile:           req.RiskProfile,
		ProfitTarget:      decimal.NewFromFloat(req.ProfitTarget),
		StopLossLimit:     decimal.NewFromFloat(req.StopLossLimit),
		ShieldEnabled:     req.ShieldEnabled,
		ConsecutiveLosses: 0,
		AccumulatedLoss:   decimal.Zero,
		ConsecutiveWins:   0,
		LastProfit:        decimal.Zero,
		ProfitPeak:        decimal.Zero,
		ShieldActive:      false,
	}
}

// Profit is the session's running profit relative to initial capital.
func (s *State) Profit() decimal.Decimal {
	return s.Balance.Sub(s.CapitalInitial)
}

// ApplyWin books a settled winning contract.
func (s *State) ApplyWin(profit decimal.Decimal) {
	s.Balance = s.Balance.Add(profit)
	s.ConsecutiveLosses = 0
	s.AccumulatedLoss = decimal.Zero
	s.LastProfit = profit
	s.ConsecutiveWins++

	// The win progression is a fixed two-step cycle.
	if s.ConsecutiveWins > 2 {
		s.ConsecutiveWins = 1
	}
}

// ApplyLoss books a settled losing contract of the given stake.
func (s *State) ApplyLoss(stake decimal.Decimal) {
	s.Balance = s.Balance.Sub(stake)
	s.ConsecutiveLosses++
	s.AccumulatedLoss = s.AccumulatedLoss.Add(stake)
	s.ConsecutiveWins = 0
	s.LastProfit = decimal.Zero
}
