package signal

import (
	"fmt"
	"math"

	"github.com/apexalgo/ticktrader/internal/types"
)

// DVXMaxWindow caps the ticks fed into the dispersion index.
const DVXMaxWindow = 100

// DVX computes the 0-100 dispersion index over the digit frequencies of the
// last <=100 ticks. High dispersion means a noisy market: a few digits are
// dominating the distribution and parity bets become unsafe.
//
//	mean     = count / 10
//	variance = sum((freq_d - mean)^2) / 10
//	DVX      = round(min(100, variance / mean * 10))
//
// A perfectly uniform distribution yields 0. Fewer than 10 ticks yield 0;
// there is not enough data to call the market dispersed.
func DVX(window []types.Tick) int {
	if len(window) > DVXMaxWindow {
		window = window[len(window)-DVXMaxWindow:]
	}

	count := len(window)
	if count < 10 {
		return 0
	}

	var freq [10]int
	for _, tick := range window {
		freq[tick.Digit]++
	}

	mean := float64(count) / 10.0

	variance := 0.0
	for _, f := range freq {
		diff := float64(f) - mean
		variance += diff * diff
	}
	variance /= 10.0

	index := math.Min(100, variance/mean*10)

	return int(math.Round(index))
}

// DispersionGate wraps an inner policy and suppresses its entries while the
// dispersion index is above the configured ceiling.
type DispersionGate struct {
	inner   Policy
	ceiling int
	window  int
}

// NewDispersionGate wraps inner with a DVX ceiling. A ceiling <= 0 disables
// the gate and inner is returned as-is by Engine wiring; the gate itself
// treats it as "always open".
func NewDispersionGate(inner Policy, ceiling, window int) *DispersionGate {
	if window <= 0 || window > DVXMaxWindow {
		window = DVXMaxWindow
	}

	return &DispersionGate{
		inner:   inner,
		ceiling: ceiling,
		window:  window,
	}
}

// Name returns the gated policy name.
func (g *DispersionGate) Name() string {
	return fmt.Sprintf("dvx(%s)", g.inner.Name())
}

// MinWindow returns the inner policy's requirement.
func (g *DispersionGate) MinWindow() int {
	return g.inner.MinWindow()
}

// Evaluate suppresses the inner signal when dispersion is above the ceiling.
func (g *DispersionGate) Evaluate(window []types.Tick, risk RiskState) (types.Signal, bool) {
	if g.ceiling > 0 {
		scope := window
		if len(scope) > g.window {
			scope = scope[len(scope)-g.window:]
		}

		if DVX(scope) > g.ceiling {
			return types.Signal{}, false
		}
	}

	return g.inner.Evaluate(window, risk)
}
