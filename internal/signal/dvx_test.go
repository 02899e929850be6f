package signal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexalgo/ticktrader/internal/types"
)

func ticksWithDigits(digits ...int) []types.Tick {
	ticks := make([]types.Tick, len(digits))
	for i, d := range digits {
		ticks[i] = types.NewTick(100+float64(d)/10, int64(i))
	}

	return ticks
}

func TestDVXUniformDistributionIsZero(t *testing.T) {
	digits := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		digits = append(digits, i%10)
	}

	assert.Equal(t, 0, DVX(ticksWithDigits(digits...)))
}

func TestDVXFullySkewedIsCapped(t *testing.T) {
	digits := make([]int, 100)
	for i := range digits {
		digits[i] = 7
	}

	assert.Equal(t, 100, DVX(ticksWithDigits(digits...)))
}

func TestDVXBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		n := 10 + rng.Intn(150)
		digits := make([]int, n)
		for i := range digits {
			digits[i] = rng.Intn(10)
		}

		dvx := DVX(ticksWithDigits(digits...))
		assert.GreaterOrEqual(t, dvx, 0)
		assert.LessOrEqual(t, dvx, 100)
	}
}

func TestDVXDeterministic(t *testing.T) {
	digits := []int{1, 1, 2, 3, 5, 8, 3, 1, 4, 5, 9, 2, 6, 5, 3}
	window := ticksWithDigits(digits...)

	first := DVX(window)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, DVX(window))
	}
}

func TestDVXTooFewTicks(t *testing.T) {
	assert.Equal(t, 0, DVX(ticksWithDigits(1, 2, 3)))
}

func TestDVXUsesOnlyLastHundred(t *testing.T) {
	// 200 ticks: the first 100 are maximally skewed, the last 100 uniform.
	digits := make([]int, 0, 200)
	for i := 0; i < 100; i++ {
		digits = append(digits, 7)
	}
	for i := 0; i < 100; i++ {
		digits = append(digits, i%10)
	}

	assert.Equal(t, 0, DVX(ticksWithDigits(digits...)))
}

func TestDispersionGateSuppressesNoisyMarket(t *testing.T) {
	inner := NewParityRun(3)
	gate := NewDispersionGate(inner, 50, 100)

	// Unanimous parity run but every digit identical: dispersion pegged at
	// 100, above the ceiling.
	digits := make([]int, 20)
	for i := range digits {
		digits[i] = 8
	}

	_, ok := gate.Evaluate(ticksWithDigits(digits...), RiskState{})
	assert.False(t, ok)
}

func TestDispersionGatePassesCalmMarket(t *testing.T) {
	inner := NewParityRun(3)
	gate := NewDispersionGate(inner, 50, 100)

	// Uniform digit spread ending in three even digits.
	digits := make([]int, 0, 103)
	for i := 0; i < 100; i++ {
		digits = append(digits, i%10)
	}
	digits = append(digits, 2, 4, 6)

	sig, ok := gate.Evaluate(ticksWithDigits(digits...), RiskState{})
	require.True(t, ok)
	assert.Equal(t, types.DirectionOdd, sig.Direction)
}
