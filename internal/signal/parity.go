package signal

import (
	"fmt"

	"github.com/apexalgo/ticktrader/internal/types"
)

// ParityRun is the unanimity-contrarian policy: when the last N parities all
// agree, it proposes the opposite parity as a mean-reversion bet.
type ParityRun struct {
	runLength int
}

// NewParityRun creates a parity run policy. runLength must be >= 2; smaller
// values fall back to 3.
func NewParityRun(runLength int) *ParityRun {
	if runLength < 2 {
		runLength = 3
	}

	return &ParityRun{runLength: runLength}
}

// Name returns the policy name.
func (p *ParityRun) Name() string {
	return "parity_run"
}

// MinWindow returns the unanimity length.
func (p *ParityRun) MinWindow() int {
	return p.runLength
}

// Evaluate proposes the opposite of a unanimous parity run.
func (p *ParityRun) Evaluate(window []types.Tick, _ RiskState) (types.Signal, bool) {
	if len(window) < p.runLength {
		return types.Signal{}, false
	}

	last := window[len(window)-p.runLength:]
	run := last[0].Parity

	for _, tick := range last[1:] {
		if tick.Parity != run {
			return types.Signal{}, false
		}
	}

	direction := types.DirectionFromParity(run).Opposite()

	return types.Signal{
		Direction: direction,
		Kind:      types.ContractKindParity,
		Strength:  float64(p.runLength) / float64(p.runLength+1),
		Rationale: fmt.Sprintf("last %d digits were all %s, betting %s", p.runLength, run, direction),
		Policy:    p.Name(),
	}, true
}
