// Package signal holds the entry policies that turn a tick window into a
// directional proposal. Policies are pure functions of the window and the
// session's loss state; every numeric threshold comes from configuration so
// one engine serves every strategy mode.
package signal

import (
	"github.com/apexalgo/ticktrader/internal/types"
)

// RiskState is the slice of session state policies may read. It is a value
// copy; policies never mutate session state.
type RiskState struct {
	// ConsecutiveLosses is the current losing streak length.
	ConsecutiveLosses int
	// LastDirection is the direction of the most recent losing entry.
	LastDirection types.Direction
	// LastKind is the contract family of the most recent losing entry.
	LastKind types.ContractKind
}

// Policy evaluates a tick window and either proposes an entry or stays out.
type Policy interface {
	// Name identifies the policy in logs and signal rationales.
	Name() string
	// MinWindow is the minimum window length the policy can evaluate.
	MinWindow() int
	// Evaluate returns a signal and true, or the zero signal and false when
	// the policy sees no entry (including insufficient data).
	Evaluate(window []types.Tick, risk RiskState) (types.Signal, bool)
}
