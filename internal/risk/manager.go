// Package risk converts a directional proposal into a bounded order size
// under loss-recovery and profit-protection rules. All monetary outputs are
// 2-decimal values; stakes are recomputed fresh on every entry.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/types"
)

// Manager sizes stakes for one strategy mode.
type Manager struct {
	minStake            decimal.Decimal
	sorosEnabled        bool
	conservativeCeiling int
	shieldActivation    decimal.Decimal
	shieldProtection    decimal.Decimal
}

// NewManager builds a manager from the mode's risk knobs.
func NewManager(mode config.ModeConfig) *Manager {
	return &Manager{
		minStake:            decimal.NewFromFloat(mode.MinStake),
		sorosEnabled:        mode.SorosEnabled,
		conservativeCeiling: mode.ConservativeLossCeiling,
		shieldActivation:    decimal.NewFromFloat(mode.ShieldActivationFraction),
		shieldProtection:    decimal.NewFromFloat(mode.ShieldProtectionFactor),
	}
}

// NextStake computes the stake for the next entry given the payout rate of
// the contract about to be placed. A zero return means the session must stop
// rather than place a doomed order.
//
// Conservative profiles cap recovery depth: past the ceiling the loss is
// accepted, the streak state resets and sizing returns to the base stake.
func (m *Manager) NextStake(s *State, payoutRate decimal.Decimal) decimal.Decimal {
	var stake decimal.Decimal

	switch {
	case s.ConsecutiveLosses == 0:
		stake = s.BaseStake

		// Reinvest-the-win progression: one step up, then back to base.
		if m.sorosEnabled && s.ConsecutiveWins == 1 {
			stake = s.BaseStake.Add(s.LastProfit)
		}

	case s.Profile == types.RiskProfileConservative && m.conservativeCeiling > 0 &&
		s.ConsecutiveLosses >= m.conservativeCeiling:
		// Accept the loss instead of escalating further.
		s.ConsecutiveLosses = 0
		s.AccumulatedLoss = decimal.Zero
		stake = s.BaseStake

	default:
		target := s.AccumulatedLoss.Mul(s.Profile.Multiplier())
		stake = target.Div(payoutRate)
	}

	stake = stake.Round(2)

	if stake.LessThan(m.minStake) {
		stake = m.minStake
	}

	return m.clamp(s, stake)
}

// UpdateShield tracks the profit peak and activates trailing protection once
// the peak crosses the activation threshold. Protection only ratchets upward
// and never deactivates for the life of the session.
func (m *Manager) UpdateShield(s *State) {
	if !s.ShieldEnabled {
		return
	}

	profit := s.Profit()
	if profit.GreaterThan(s.ProfitPeak) {
		s.ProfitPeak = profit
	}

	if s.ShieldActive {
		return
	}

	threshold := s.ProfitTarget.Mul(m.shieldActivation)
	if threshold.IsPositive() && s.ProfitPeak.GreaterThanOrEqual(threshold) {
		s.ShieldActive = true
	}
}

// ActiveFloor is the balance below which the session must stop: the shield
// floor once protection is active, the stop-loss floor otherwise.
func (m *Manager) ActiveFloor(s *State) decimal.Decimal {
	if s.ShieldActive {
		return s.CapitalInitial.Add(s.ProfitPeak.Mul(m.shieldProtection)).Round(2)
	}

	return s.CapitalInitial.Sub(s.StopLossLimit).Round(2)
}

// FloorBreached reports whether the balance has already crossed the active
// floor.
func (m *Manager) FloorBreached(s *State) bool {
	return s.Balance.LessThanOrEqual(m.ActiveFloor(s))
}

// TargetReached reports whether the profit target has been met.
func (m *Manager) TargetReached(s *State) bool {
	return s.Profit().GreaterThanOrEqual(s.ProfitTarget)
}

// MinStake exposes the minimum tradable unit.
func (m *Manager) MinStake() decimal.Decimal {
	return m.minStake
}

// clamp is the soft-landing rule: a loss of the returned stake can never
// push the balance below the active floor. When the remaining margin is
// smaller than the minimum tradable unit the session must stop (zero).
func (m *Manager) clamp(s *State, stake decimal.Decimal) decimal.Decimal {
	floor := m.ActiveFloor(s)
	margin := s.Balance.Sub(floor).Round(2)

	if stake.GreaterThan(margin) {
		stake = margin
	}

	if stake.LessThan(m.minStake) {
		return decimal.Zero
	}

	return stake
}
