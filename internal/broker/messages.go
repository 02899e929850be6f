package broker

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/internal/types"
)

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0)
}

// Message families of the upstream duplex protocol. Every inbound message
// carries a msg_type tag; a req_id echo is only guaranteed for some families
// (see matcher.go).
const (
	FamilyAuthorize    = "authorize"
	FamilyPing         = "ping"
	FamilyTick         = "tick"
	FamilyProposal     = "proposal"
	FamilyBuy          = "buy"
	FamilyOpenContract = "proposal_open_contract"
	FamilyForget       = "forget"
)

// apiError is the error object embedded in upstream responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the minimal probe decoded from every inbound frame before
// dispatch. RawMessage keeps the full payload for the waiter.
type envelope struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id,omitempty"`
	Error        *apiError       `json:"error,omitempty"`
	Tick         json.RawMessage `json:"tick,omitempty"`
	OpenContract json.RawMessage `json:"proposal_open_contract,omitempty"`
	raw          json.RawMessage
}

// authorizeRequest authenticates a connection.
type authorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id"`
}

// authorizeResponse carries the account snapshot on success.
type authorizeResponse struct {
	Authorize struct {
		LoginID  string  `json:"loginid"`
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	} `json:"authorize"`
}

// pingRequest is the keep-alive no-op.
type pingRequest struct {
	Ping  int   `json:"ping"`
	ReqID int64 `json:"req_id"`
}

// ticksRequest subscribes to the instrument tick feed.
type ticksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
	ReqID     int64  `json:"req_id"`
}

// tickEvent is one feed update.
type tickEvent struct {
	Quote float64 `json:"quote"`
	Epoch int64   `json:"epoch"`
	ID    string  `json:"id"`
}

// ProposalRequest asks the broker to price a prospective contract.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier,omitempty"`
	ReqID        int64   `json:"req_id"`
}

// proposalResponse is the priced quote.
type proposalResponse struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Payout   float64 `json:"payout"`
		Spot     float64 `json:"spot"`
	} `json:"proposal"`
}

// buyRequest purchases a priced proposal.
type buyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id"`
}

// buyResponse acknowledges the purchase.
type buyResponse struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		BuyPrice      float64 `json:"buy_price"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"buy"`
}

// openContractRequest subscribes to settlement progress for a contract.
type openContractRequest struct {
	OpenContract int   `json:"proposal_open_contract"`
	ContractID   int64 `json:"contract_id"`
	Subscribe    int   `json:"subscribe"`
	ReqID        int64 `json:"req_id"`
}

// ContractUpdate is one settlement-progress event for an open contract.
type ContractUpdate struct {
	ContractID int64   `json:"contract_id"`
	Status     string  `json:"status"`
	Profit     float64 `json:"profit"`
	ExitTick   float64 `json:"exit_tick"`
	IsSold     int     `json:"is_sold"`
	SellTime   int64   `json:"sell_time"`
}

// Terminal reports whether this update closes the subscription.
func (u ContractUpdate) Terminal() bool {
	return u.IsSold == 1
}

// Settlement converts a terminal update into the domain settlement event.
func (u ContractUpdate) Settlement(contractID string) types.Settlement {
	profit := decimal.NewFromFloat(u.Profit).Round(2)

	return types.Settlement{
		ContractID: contractID,
		Profit:     profit,
		ExitPrice:  u.ExitTick,
		Won:        profit.IsPositive(),
		SoldAt:     unixTime(u.SellTime),
	}
}

// forgetRequest drops a server-side subscription.
type forgetRequest struct {
	Forget string `json:"forget"`
	ReqID  int64  `json:"req_id"`
}

// ContractType maps a domain signal to the upstream contract type tag.
func ContractType(direction types.Direction) string {
	switch direction {
	case types.DirectionEven:
		return "DIGITEVEN"
	case types.DirectionOdd:
		return "DIGITODD"
	case types.DirectionUnder:
		return "DIGITUNDER"
	case types.DirectionOver:
		return "DIGITOVER"
	case types.DirectionRise:
		return "CALL"
	case types.DirectionFall:
		return "PUT"
	default:
		return ""
	}
}
