package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Parity is the even/odd classification of a tick's last significant digit.
type Parity string

const (
	ParityEven Parity = "EVEN"
	ParityOdd  Parity = "ODD"
)

// Tick is one normalized price update from the feed. Immutable once created;
// it is shared read-only across every live session.
type Tick struct {
	// Value is the quoted price.
	Value float64 `json:"value"`
	// Epoch is the feed timestamp in unix seconds.
	Epoch int64 `json:"epoch"`
	// Digit is the last significant decimal digit of Value (0-9).
	Digit int `json:"digit"`
	// Parity is EVEN when Digit is even, ODD otherwise.
	Parity Parity `json:"parity"`
}

// NewTick normalizes a raw quote into a Tick, deriving digit and parity.
func NewTick(value float64, epoch int64) Tick {
	digit := LastDigit(value)

	parity := ParityOdd
	if digit%2 == 0 {
		parity = ParityEven
	}

	return Tick{
		Value:  value,
		Epoch:  epoch,
		Digit:  digit,
		Parity: parity,
	}
}

// Time returns the tick timestamp as time.Time.
func (t Tick) Time() time.Time {
	return time.Unix(t.Epoch, 0)
}

// LastDigit extracts the last significant decimal digit of a quote: the
// absolute value is formatted without trailing zeros, the decimal separator
// is removed and the final character is taken. Non-numeric results (NaN,
// infinities) yield 0.
func LastDigit(value float64) int {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}

	repr := strconv.FormatFloat(math.Abs(value), 'f', -1, 64)
	repr = strings.ReplaceAll(repr, ".", "")

	if len(repr) == 0 {
		return 0
	}

	last := repr[len(repr)-1]
	if last < '0' || last > '9' {
		return 0
	}

	return int(last - '0')
}
