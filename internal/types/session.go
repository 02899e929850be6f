package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/pkg/errors"
)

// RiskProfile selects how aggressively lost capital is recovered.
type RiskProfile string

const (
	RiskProfileConservative RiskProfile = "CONSERVATIVE"
	RiskProfileModerate     RiskProfile = "MODERATE"
	RiskProfileAggressive   RiskProfile = "AGGRESSIVE"
)

// Multiplier returns the recovery target multiplier: break-even for
// conservative, 1.25x for moderate, 1.5x for aggressive.
func (p RiskProfile) Multiplier() decimal.Decimal {
	switch p {
	case RiskProfileModerate:
		return decimal.NewFromFloat(1.25)
	case RiskProfileAggressive:
		return decimal.NewFromFloat(1.5)
	default:
		return decimal.NewFromInt(1)
	}
}

// SessionState is the orchestrator state machine position.
type SessionState string

const (
	SessionStateIdle         SessionState = "IDLE"
	SessionStateSignalWait   SessionState = "SIGNAL_WAIT"
	SessionStateOrderPending SessionState = "ORDER_PENDING"
	SessionStateContractOpen SessionState = "CONTRACT_OPEN"
	SessionStateSettling     SessionState = "SETTLING"
	SessionStateStopped      SessionState = "STOPPED"
)

// StopReason records why a session reached the terminal STOPPED state.
type StopReason string

const (
	StopReasonProfitTarget        StopReason = "profit_target"
	StopReasonStopLoss            StopReason = "stop_loss"
	StopReasonShieldFloor         StopReason = "shield_floor"
	StopReasonInsufficientBalance StopReason = "insufficient_balance"
	StopReasonDeactivated         StopReason = "deactivated"
)

// ActivationRequest is the validated input that creates a trading session.
type ActivationRequest struct {
	AccountID       string      `yaml:"account_id" json:"account_id" validate:"required"`
	CredentialToken string      `yaml:"credential_token" json:"credential_token" validate:"required"`
	Currency        string      `yaml:"currency" json:"currency" validate:"required,len=3"`
	Mode            string      `yaml:"mode" json:"mode" validate:"required"`
	RiskProfile     RiskProfile `yaml:"risk_profile" json:"risk_profile" validate:"required,oneof=CONSERVATIVE MODERATE AGGRESSIVE"`
	BaseStake       float64     `yaml:"base_stake" json:"base_stake" validate:"required,gt=0"`
	ProfitTarget    float64     `yaml:"profit_target" json:"profit_target" validate:"required,gt=0"`
	StopLossLimit   float64     `yaml:"stop_loss_limit" json:"stop_loss_limit" validate:"required,gt=0"`
	ShieldEnabled   bool        `yaml:"shield_enabled" json:"shield_enabled"`
	InitialBalance  float64     `yaml:"initial_balance" json:"initial_balance" validate:"gte=0"`
}

// Validate validates the ActivationRequest struct.
func (r *ActivationRequest) Validate() error {
	validate := validator.New()

	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidActivation, "invalid activation request", err)
	}

	return nil
}
