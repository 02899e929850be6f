// Package persistence stores session configurations, the order journal and
// the session event log. Writes on the trading path are fire-and-forget for
// the caller; a storage failure must never stall a live session.
package persistence

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/internal/types"
)

// OrderResult is the journal outcome of one placed order.
type OrderResult string

const (
	OrderResultOpen OrderResult = "OPEN"
	OrderResultWon  OrderResult = "WON"
	OrderResultLost OrderResult = "LOST"
	// OrderResultDiscarded marks a settlement that arrived after the session
	// was deactivated.
	OrderResultDiscarded OrderResult = "DISCARDED"
)

// OrderRecord is one row of the order journal.
type OrderRecord struct {
	ID         string
	AccountID  string
	Mode       string
	ContractID optional.Option[string]
	Direction  types.Direction
	Kind       types.ContractKind
	Barrier    int
	Stake      decimal.Decimal
	Payout     decimal.Decimal
	Policy     string
	Result     OrderResult
	Profit     decimal.Decimal
	PlacedAt   time.Time
	SettledAt  optional.Option[time.Time]
}

// SessionRecord is the durable session state used for rehydration after a
// restart.
type SessionRecord struct {
	Request    types.ActivationRequest
	Balance    decimal.Decimal
	Active     bool
	StopReason string
	UpdatedAt  time.Time
}

// Gateway is the storage surface the engine and sessions write through.
type Gateway interface {
	// RecordOrder journals a newly placed order.
	RecordOrder(order OrderRecord) error
	// SettleOrder finalizes a journaled order with its outcome.
	SettleOrder(orderID string, result OrderResult, profit decimal.Decimal, settledAt time.Time) error
	// SaveSession upserts a session's configuration and state.
	SaveSession(record SessionRecord) error
	// UpdateSessionBalance persists the running balance after a settlement.
	UpdateSessionBalance(accountID string, balance decimal.Decimal) error
	// StopSession marks a session inactive with a human-readable reason.
	StopSession(accountID string, reason string) error
	// ReadActiveSessions returns every session that was live at last write,
	// for rehydration on startup.
	ReadActiveSessions() ([]SessionRecord, error)
	// AppendLog records one session event line.
	AppendLog(accountID string, level string, message string) error
	// Close releases the underlying store.
	Close() error
}
