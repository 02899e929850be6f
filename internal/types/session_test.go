package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexalgo/ticktrader/pkg/errors"
)

func validActivation() ActivationRequest {
	return ActivationRequest{
		AccountID:       "acc-1",
		CredentialToken: "tok-1",
		Currency:        "USD",
		Mode:            "apollo",
		RiskProfile:     RiskProfileConservative,
		BaseStake:       0.35,
		ProfitTarget:    100,
		StopLossLimit:   50,
		ShieldEnabled:   true,
		InitialBalance:  500,
	}
}

func TestActivationRequestValidate(t *testing.T) {
	req := validActivation()
	require.NoError(t, req.Validate())
}

func TestActivationRequestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ActivationRequest)
	}{
		{"missing account id", func(r *ActivationRequest) { r.AccountID = "" }},
		{"missing token", func(r *ActivationRequest) { r.CredentialToken = "" }},
		{"bad currency", func(r *ActivationRequest) { r.Currency = "DOLLARS" }},
		{"zero stake", func(r *ActivationRequest) { r.BaseStake = 0 }},
		{"negative stop loss", func(r *ActivationRequest) { r.StopLossLimit = -1 }},
		{"unknown risk profile", func(r *ActivationRequest) { r.RiskProfile = "YOLO" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validActivation()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidActivation))
		})
	}
}

func TestRiskProfileMultiplier(t *testing.T) {
	assert.Equal(t, "1", RiskProfileConservative.Multiplier().String())
	assert.Equal(t, "1.25", RiskProfileModerate.Multiplier().String())
	assert.Equal(t, "1.5", RiskProfileAggressive.Multiplier().String())
}
