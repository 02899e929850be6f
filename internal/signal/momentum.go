package signal

import (
	"fmt"
	"math"

	"github.com/apexalgo/ticktrader/internal/types"
)

// Momentum requires K consecutive same-direction price deltas of a minimum
// magnitude, optionally confirmed by the current price sitting on the trend
// side of a simple moving average.
type Momentum struct {
	length    int
	minDelta  float64
	smaPeriod int // 0 disables the filter
}

// NewMomentum creates a momentum confirmation policy.
func NewMomentum(length int, minDelta float64, smaPeriod int) *Momentum {
	if length < 2 {
		length = 2
	}

	return &Momentum{
		length:    length,
		minDelta:  minDelta,
		smaPeriod: smaPeriod,
	}
}

// Name returns the policy name.
func (m *Momentum) Name() string {
	return "momentum"
}

// MinWindow returns the ticks needed for deltas plus the SMA period.
func (m *Momentum) MinWindow() int {
	need := m.length + 1
	if m.smaPeriod > need {
		need = m.smaPeriod
	}

	return need
}

// Evaluate proposes rise/fall in the direction of a confirmed run of deltas.
func (m *Momentum) Evaluate(window []types.Tick, _ RiskState) (types.Signal, bool) {
	if len(window) < m.MinWindow() {
		return types.Signal{}, false
	}

	recent := window[len(window)-(m.length+1):]
	up := recent[1].Value > recent[0].Value

	for i := 1; i < len(recent); i++ {
		delta := recent[i].Value - recent[i-1].Value
		if math.Abs(delta) < m.minDelta {
			return types.Signal{}, false
		}

		if (delta > 0) != up {
			return types.Signal{}, false
		}
	}

	current := window[len(window)-1].Value

	if m.smaPeriod > 0 {
		sma := simpleMovingAverage(window, m.smaPeriod)
		if up && current <= sma {
			return types.Signal{}, false
		}

		if !up && current >= sma {
			return types.Signal{}, false
		}
	}

	direction := types.DirectionRise
	if !up {
		direction = types.DirectionFall
	}

	return types.Signal{
		Direction: direction,
		Kind:      types.ContractKindRiseFall,
		Strength:  0.5,
		Rationale: fmt.Sprintf("%d consecutive deltas of at least %.5f, betting %s", m.length, m.minDelta, direction),
		Policy:    m.Name(),
	}, true
}

func simpleMovingAverage(window []types.Tick, period int) float64 {
	if period > len(window) {
		period = len(window)
	}

	sum := 0.0
	for _, tick := range window[len(window)-period:] {
		sum += tick.Value
	}

	return sum / float64(period)
}
