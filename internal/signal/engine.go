package signal

import (
	"fmt"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// Engine composes one mode's policy chain: a dispersion-gated base policy,
// the recovery override that persists a losing direction on a higher-payout
// contract, and the heavier-filtered defense policy that takes over once the
// losing streak crosses the defense ceiling.
type Engine struct {
	mode    config.ModeConfig
	base    Policy
	defense Policy
}

// NewEngine builds the policy chain for a mode configuration. Base and
// defense policies come out of the policy registry.
func NewEngine(mode config.ModeConfig) (*Engine, error) {
	base, err := defaultRegistry.Build(mode.Policy, mode)
	if err != nil {
		return nil, err
	}

	if mode.DVXCeiling > 0 {
		base = NewDispersionGate(base, mode.DVXCeiling, mode.DVXWindow)
	}

	var defense Policy

	if mode.DefenseCeiling > 0 {
		defMode := mode
		defMode.RunLength = mode.DefenseRunLength

		defense, err = defaultRegistry.Build("parity_run", defMode)
		if err != nil {
			return nil, err
		}

		if mode.DVXCeiling > 0 {
			defense = NewDispersionGate(defense, mode.DVXCeiling, mode.DVXWindow)
		}
	}

	return &Engine{
		mode:    mode,
		base:    base,
		defense: defense,
	}, nil
}

// Ready reports whether the window can feed the base policy. A short window
// yields a typed insufficient-data error for the caller's logs.
func (e *Engine) Ready(window []types.Tick) error {
	if need := e.base.MinWindow(); len(window) < need {
		return errors.NewInsufficientDataError(need, len(window), e.base.Name(),
			fmt.Sprintf("window holds %d ticks, %s needs %d", len(window), e.base.Name(), need))
	}

	return nil
}

// Evaluate runs the chain for the current window and loss state.
//
// While the session holds open losses at or beyond the recovery activation
// count, the engine persists the losing direction on the recovery contract
// shape instead of consulting the base policy; past the defense ceiling the
// defense policy takes over ("auto-defense").
func (e *Engine) Evaluate(window []types.Tick, risk RiskState) (types.Signal, bool) {
	if risk.ConsecutiveLosses >= e.mode.RecoveryActivationLosses && risk.ConsecutiveLosses > 0 {
		if e.defense != nil && risk.ConsecutiveLosses >= e.mode.DefenseCeiling {
			return e.defense.Evaluate(window, risk)
		}

		return e.recoverySignal(risk), true
	}

	return e.base.Evaluate(window, risk)
}

// InRecovery reports whether the loss state puts the engine in recovery.
func (e *Engine) InRecovery(risk RiskState) bool {
	return risk.ConsecutiveLosses >= e.mode.RecoveryActivationLosses && risk.ConsecutiveLosses > 0
}

// recoverySignal keeps betting the losing entry's direction on the
// lower-threshold, higher-payout contract shape.
func (e *Engine) recoverySignal(risk RiskState) types.Signal {
	direction := risk.LastDirection
	kind := types.ContractKindUnderOver
	barrier := e.mode.RecoveryBarrier

	// Parity losses recover on the under/over shape; the direction becomes
	// "under barrier" which carries the higher payout.
	if direction == "" || risk.LastKind == types.ContractKindParity {
		direction = types.DirectionUnder
	}

	if risk.LastKind == types.ContractKindRiseFall {
		kind = types.ContractKindRiseFall
		barrier = 0
	}

	return types.Signal{
		Direction: direction,
		Kind:      kind,
		Barrier:   barrier,
		Strength:  1,
		Rationale: fmt.Sprintf("recovery: persisting %s after %d consecutive losses", direction, risk.ConsecutiveLosses),
		Policy:    "recovery",
	}
}

// BasePolicy exposes the gated base policy, mainly for tests and logging.
func (e *Engine) BasePolicy() Policy {
	return e.base
}
