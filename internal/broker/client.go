package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// Account is the broker-side account snapshot returned by authorization.
type Account struct {
	LoginID  string
	Balance  decimal.Decimal
	Currency string
}

// authorize authenticates the connection with a credential token. Every other
// operation fails upstream until this succeeds.
func (c *Connection) authorize(ctx context.Context, token string) (Account, error) {
	reqID := c.nextReqID()

	raw, err := c.request(ctx, FamilyAuthorize, reqID, authorizeRequest{
		Authorize: token,
		ReqID:     reqID,
	})
	if err != nil {
		return Account{}, err
	}

	var resp authorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Account{}, errors.Wrap(errors.ErrCodeMalformedMessage, "failed to decode authorize response", err)
	}

	return Account{
		LoginID:  resp.Authorize.LoginID,
		Balance:  decimal.NewFromFloat(resp.Authorize.Balance).Round(2),
		Currency: resp.Authorize.Currency,
	}, nil
}

// SubscribeTicks starts the instrument feed and installs the handler that
// receives every subsequent update. One feed per connection.
func (c *Connection) SubscribeTicks(ctx context.Context, symbol string, handler TickHandler) error {
	c.mu.Lock()
	c.tickHandler = handler
	c.mu.Unlock()

	reqID := c.nextReqID()

	_, err := c.request(ctx, FamilyTick, reqID, ticksRequest{
		Ticks:     symbol,
		Subscribe: 1,
		ReqID:     reqID,
	})
	if err != nil {
		c.mu.Lock()
		c.tickHandler = nil
		c.mu.Unlock()

		return err
	}

	return nil
}

// ProposalParams describes the contract to price.
type ProposalParams struct {
	Direction types.Direction
	Kind      types.ContractKind
	Barrier   int
	Stake     decimal.Decimal
	Currency  string
	Symbol    string
	// DurationTicks is the contract length; digit contracts settle on the
	// final tick.
	DurationTicks int
}

// Proposal asks the broker to price a prospective contract.
func (c *Connection) Proposal(ctx context.Context, p ProposalParams) (types.Proposal, error) {
	contractType := ContractType(p.Direction)
	if contractType == "" {
		return types.Proposal{}, errors.Newf(errors.ErrCodeProposalFailed, "no contract type for direction %q", p.Direction)
	}

	stake, _ := p.Stake.Round(2).Float64()
	reqID := c.nextReqID()

	req := ProposalRequest{
		Proposal:     1,
		Amount:       stake,
		Basis:        "stake",
		ContractType: contractType,
		Currency:     p.Currency,
		Duration:     p.DurationTicks,
		DurationUnit: "t",
		Symbol:       p.Symbol,
		ReqID:        reqID,
	}

	if p.Kind == types.ContractKindUnderOver {
		req.Barrier = strconv.Itoa(p.Barrier)
	}

	raw, err := c.request(ctx, FamilyProposal, reqID, req)
	if err != nil {
		return types.Proposal{}, err
	}

	var resp proposalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.Proposal{}, errors.Wrap(errors.ErrCodeMalformedMessage, "failed to decode proposal response", err)
	}

	return types.Proposal{
		ID:         resp.Proposal.ID,
		AskPrice:   decimal.NewFromFloat(resp.Proposal.AskPrice).Round(2),
		Payout:     decimal.NewFromFloat(resp.Proposal.Payout).Round(2),
		SpotPrice:  resp.Proposal.Spot,
		ReceivedAt: time.Now(),
	}, nil
}

// Buy purchases a priced proposal at its ask price and returns the broker's
// contract id.
func (c *Connection) Buy(ctx context.Context, proposalID string, price decimal.Decimal) (string, error) {
	askPrice, _ := price.Round(2).Float64()
	reqID := c.nextReqID()

	raw, err := c.request(ctx, FamilyBuy, reqID, buyRequest{
		Buy:   proposalID,
		Price: askPrice,
		ReqID: reqID,
	})
	if err != nil {
		return "", err
	}

	var resp buyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(errors.ErrCodeMalformedMessage, "failed to decode buy response", err)
	}

	return fmt.Sprintf("%d", resp.Buy.ContractID), nil
}

// SubscribeContract streams settlement progress for an open contract to the
// handler. The route self-removes on the terminal update.
func (c *Connection) SubscribeContract(ctx context.Context, contractID string, handler ContractHandler) error {
	id, err := strconv.ParseInt(contractID, 10, 64)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeSubscriptionFailed, err, "bad contract id %q", contractID)
	}

	c.mu.Lock()
	c.contracts[id] = handler
	c.mu.Unlock()

	reqID := c.nextReqID()

	_, err = c.request(ctx, FamilyOpenContract, reqID, openContractRequest{
		OpenContract: 1,
		ContractID:   id,
		Subscribe:    1,
		ReqID:        reqID,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.contracts, id)
		c.mu.Unlock()

		return err
	}

	return nil
}

// Forget drops a server-side stream by its subscription id. Fire-and-forget;
// the local route, if any, is already gone.
func (c *Connection) Forget(subscriptionID string) error {
	return c.send(forgetRequest{
		Forget: subscriptionID,
		ReqID:  c.nextReqID(),
	})
}
