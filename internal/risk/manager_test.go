package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/types"
)

func testManager() *Manager {
	mode := config.ModeConfig{
		Policy:                   "parity_run",
		PayoutRate:               0.92,
		MinStake:                 0.35,
		SorosEnabled:             true,
		ConservativeLossCeiling:  5,
		ShieldActivationFraction: 0.4,
		ShieldProtectionFactor:   0.5,
	}

	return NewManager(mode)
}

func testState(profile types.RiskProfile) *State {
	return NewState(types.ActivationRequest{
		AccountID:       "acc-1",
		CredentialToken: "tok",
		Currency:        "USD",
		Mode:            "zeus",
		RiskProfile:     profile,
		BaseStake:       0.35,
		ProfitTarget:    100,
		StopLossLimit:   50,
		ShieldEnabled:   true,
		InitialBalance:  500,
	})
}

func d(v string) decimal.Decimal {
	dec, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}

	return dec
}

func TestNextStakeBaseWithNoLosses(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileConservative)

	assert.True(t, m.NextStake(s, d("0.92")).Equal(d("0.35")))
}

func TestNextStakeMartingaleConservative(t *testing.T) {
	// One prior loss of 1.00 at payout 0.92: round(1.00/0.92, 2) = 1.09.
	m := testManager()
	s := testState(types.RiskProfileConservative)
	s.BaseStake = d("1.00")
	s.ApplyLoss(d("1.00"))

	assert.True(t, m.NextStake(s, d("0.92")).Equal(d("1.09")),
		"got %s", m.NextStake(s, d("0.92")))
}

func TestNextStakeRecoveryMultipliers(t *testing.T) {
	tests := []struct {
		profile types.RiskProfile
		want    string
	}{
		// 10.00 accumulated loss at payout 1.20
		{types.RiskProfileConservative, "8.33"}, // 10/1.2
		{types.RiskProfileModerate, "10.42"},    // 10*1.25/1.2
		{types.RiskProfileAggressive, "12.5"},   // 10*1.5/1.2
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			m := testManager()
			s := testState(tt.profile)
			s.ApplyLoss(d("10.00"))

			assert.True(t, m.NextStake(s, d("1.20")).Equal(d(tt.want)),
				"got %s want %s", m.NextStake(s, d("1.20")), tt.want)
		})
	}
}

func TestNextStakeConservativeAcceptsLossAtCeiling(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileConservative)

	for i := 0; i < 5; i++ {
		s.ApplyLoss(d("2.00"))
	}

	require.Equal(t, 5, s.ConsecutiveLosses)

	stake := m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("0.35")), "got %s", stake)
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.True(t, s.AccumulatedLoss.IsZero())
}

func TestNextStakeAggressiveKeepsEscalatingPastCeiling(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileAggressive)

	for i := 0; i < 6; i++ {
		s.ApplyLoss(d("1.00"))
	}

	// 6 * 1.5 / 0.92 = 9.7826... -> 9.78
	stake := m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("9.78")), "got %s", stake)
	assert.Equal(t, 6, s.ConsecutiveLosses)
}

func TestSorosProgression(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileModerate)

	// First win of 0.30: next stake reinvests the profit.
	s.ApplyWin(d("0.30"))
	stake := m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("0.65")), "got %s", stake)

	// Second consecutive win at any profit resets the cycle.
	s.ApplyWin(d("0.60"))
	stake = m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("0.35")), "got %s", stake)

	// Third win starts the cycle again.
	s.ApplyWin(d("0.28"))
	stake = m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("0.63")), "got %s", stake)
}

func TestSorosDisabled(t *testing.T) {
	mode := config.ModeConfig{
		Policy:     "parity_run",
		PayoutRate: 0.92,
		MinStake:   0.35,
	}
	m := NewManager(mode)
	s := testState(types.RiskProfileModerate)

	s.ApplyWin(d("0.30"))
	assert.True(t, m.NextStake(s, d("0.92")).Equal(d("0.35")))
}

func TestShieldActivation(t *testing.T) {
	// profitTarget=100, activation 0.4, protection 0.5, peak 42:
	// shield active, floor = capitalInitial + 21.
	m := testManager()
	s := testState(types.RiskProfileModerate)

	s.Balance = s.CapitalInitial.Add(d("42"))
	m.UpdateShield(s)

	assert.True(t, s.ShieldActive)
	assert.True(t, s.ProfitPeak.Equal(d("42")))
	assert.True(t, m.ActiveFloor(s).Equal(s.CapitalInitial.Add(d("21"))),
		"got %s", m.ActiveFloor(s))
}

func TestShieldBelowActivationThreshold(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileModerate)

	s.Balance = s.CapitalInitial.Add(d("39.99"))
	m.UpdateShield(s)

	assert.False(t, s.ShieldActive)
	assert.True(t, m.ActiveFloor(s).Equal(s.CapitalInitial.Sub(d("50"))))
}

func TestShieldRatchetsUpwardOnly(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileModerate)

	s.Balance = s.CapitalInitial.Add(d("42"))
	m.UpdateShield(s)
	require.True(t, s.ShieldActive)

	// Profit falls back: the peak and the floor hold.
	s.Balance = s.CapitalInitial.Add(d("30"))
	m.UpdateShield(s)
	assert.True(t, s.ShieldActive)
	assert.True(t, s.ProfitPeak.Equal(d("42")))

	// A new peak raises the floor.
	s.Balance = s.CapitalInitial.Add(d("60"))
	m.UpdateShield(s)
	assert.True(t, s.ProfitPeak.Equal(d("60")))
	assert.True(t, m.ActiveFloor(s).Equal(s.CapitalInitial.Add(d("30"))))
}

func TestShieldDisabled(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileModerate)
	s.ShieldEnabled = false

	s.Balance = s.CapitalInitial.Add(d("90"))
	m.UpdateShield(s)
	assert.False(t, s.ShieldActive)
	assert.True(t, s.ProfitPeak.IsZero())
}

func TestSoftLandingClampReducesStake(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileAggressive)

	// Balance 451, stop-loss floor 450: only 1.00 of margin remains.
	s.Balance = d("451")
	s.BaseStake = d("5.00")
	stake := m.NextStake(s, d("0.92"))
	assert.True(t, stake.Equal(d("1.00")), "got %s", stake)
}

func TestSoftLandingClampStopsBelowMinimum(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileAggressive)

	// Margin above the floor is below the minimum tradable unit.
	s.Balance = d("450.20")
	stake := m.NextStake(s, d("0.92"))
	assert.True(t, stake.IsZero(), "got %s", stake)
}

func TestFloorAndTargetChecks(t *testing.T) {
	m := testManager()
	s := testState(types.RiskProfileModerate)

	assert.False(t, m.FloorBreached(s))
	assert.False(t, m.TargetReached(s))

	s.Balance = d("449.99")
	assert.True(t, m.FloorBreached(s))

	s.Balance = d("600")
	assert.True(t, m.TargetReached(s))
}

func TestApplyWinLossBookkeeping(t *testing.T) {
	s := testState(types.RiskProfileModerate)

	s.ApplyLoss(d("1.00"))
	s.ApplyLoss(d("2.00"))
	assert.Equal(t, 2, s.ConsecutiveLosses)
	assert.True(t, s.AccumulatedLoss.Equal(d("3.00")))
	assert.True(t, s.Balance.Equal(d("497")))

	s.ApplyWin(d("3.50"))
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.True(t, s.AccumulatedLoss.IsZero())
	assert.Equal(t, 1, s.ConsecutiveWins)
	assert.True(t, s.Balance.Equal(d("500.5")))
}
