// Package session drives the per-account trading state machine. Each session
// owns one worker goroutine; ticks arrive through a bounded newest-wins
// mailbox so a slow session can never stall feed fan-out to the others.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/broker"
	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/notify"
	"github.com/apexalgo/ticktrader/internal/persistence"
	"github.com/apexalgo/ticktrader/internal/risk"
	"github.com/apexalgo/ticktrader/internal/signal"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// settleTimeout bounds the wait for a terminal contract update. Digit
// contracts run a handful of ticks; anything past this is treated as a lost
// subscription and the attempt is abandoned.
const settleTimeout = 2 * time.Minute

// Broker is the slice of connection behavior a session consumes.
type Broker interface {
	Proposal(ctx context.Context, p broker.ProposalParams) (types.Proposal, error)
	Buy(ctx context.Context, proposalID string, price decimal.Decimal) (string, error)
	SubscribeContract(ctx context.Context, contractID string, handler broker.ContractHandler) error
}

// BrokerSource resolves the live connection for the session's credential.
// The session re-resolves on every entry attempt rather than pinning one
// connection, so a transport drop heals on the next attempt: the multiplexer
// behind the source re-dials and re-authenticates.
type BrokerSource func(ctx context.Context) (Broker, error)

type tickMsg struct {
	tick   types.Tick
	window []types.Tick
}

// Params carries everything a session needs at construction.
type Params struct {
	Request types.ActivationRequest
	Mode    config.ModeConfig
	Symbol  string

	Connect BrokerSource
	Gateway persistence.Gateway
	Sink    notify.Sink
	Logger  *logger.Logger

	// OnStop is invoked exactly once when the session reaches STOPPED on its
	// own (not via Deactivate); the registry uses it to drop the live entry.
	OnStop func(accountID string, reason types.StopReason)
}

// Session is one account's orchestrator. All mutable state below the deps is
// owned by the worker goroutine.
type Session struct {
	accountID string
	mode      string
	symbol    string
	currency  string

	modeCfg config.ModeConfig
	engine  *signal.Engine
	riskMgr *risk.Manager
	riskSt  *risk.State

	connect BrokerSource
	gateway persistence.Gateway
	sink    notify.Sink
	logger  *logger.Logger
	onStop  func(string, types.StopReason)

	state             types.SessionState
	operationInFlight bool
	lastDirection     types.Direction
	lastKind          types.ContractKind

	ticks       chan tickMsg
	settlements chan types.Settlement

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a session in IDLE and starts its worker.
func New(p Params) (*Session, error) {
	engine, err := signal.NewEngine(p.Mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		accountID:   p.Request.AccountID,
		mode:        p.Request.Mode,
		symbol:      p.Symbol,
		currency:    p.Request.Currency,
		modeCfg:     p.Mode,
		engine:      engine,
		riskMgr:     risk.NewManager(p.Mode),
		riskSt:      risk.NewState(p.Request),
		connect:     p.Connect,
		gateway:     p.Gateway,
		sink:        p.Sink,
		logger:      p.Logger,
		onStop:      p.OnStop,
		state:       types.SessionStateIdle,
		ticks:       make(chan tickMsg, 1),
		settlements: make(chan types.Settlement, 4),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// AccountID returns the owning account id.
func (s *Session) AccountID() string {
	return s.accountID
}

// Balance returns the last settled balance. Only meaningful between worker
// iterations; callers use it for reporting, not control flow.
func (s *Session) Balance() decimal.Decimal {
	return s.riskSt.Balance
}

// OnTick delivers a feed update to the session mailbox. Never blocks: when
// the worker is busy the stale pending tick is replaced by the newest one.
func (s *Session) OnTick(tick types.Tick, window []types.Tick) {
	msg := tickMsg{tick: tick, window: window}

	select {
	case s.ticks <- msg:
		return
	default:
	}

	select {
	case <-s.ticks:
	default:
	}

	select {
	case s.ticks <- msg:
	default:
	}
}

// Deactivate marks the session for removal. Safe while an order is in
// flight: the worker unwinds, and a settlement that arrives afterwards is
// journaled as discarded.
func (s *Session) Deactivate() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()

		_ = s.gateway.StopSession(s.accountID, string(types.StopReasonDeactivated))
		_ = s.gateway.AppendLog(s.accountID, "INFO", "session deactivated")
	})

	s.wg.Wait()
}

func (s *Session) run() {
	defer s.wg.Done()

	s.state = types.SessionStateSignalWait

	for {
		select {
		case msg := <-s.ticks:
			s.handleTick(msg)

			if s.state == types.SessionStateStopped {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleTick(msg tickMsg) {
	if s.operationInFlight {
		return
	}

	if s.state != types.SessionStateIdle && s.state != types.SessionStateSignalWait {
		return
	}

	if err := s.engine.Ready(msg.window); err != nil {
		s.logger.Debug("tick window still filling",
			zap.String("account_id", s.accountID), zap.Error(err))

		return
	}

	sig, ok := s.engine.Evaluate(msg.window, signal.RiskState{
		ConsecutiveLosses: s.riskSt.ConsecutiveLosses,
		LastDirection:     s.lastDirection,
		LastKind:          s.lastKind,
	})
	if !ok {
		return
	}

	stake := s.riskMgr.NextStake(s.riskSt, s.payoutRateFor(sig))
	if stake.IsZero() {
		// Placing this order would land below the active floor.
		reason := types.StopReasonStopLoss
		if s.riskSt.ShieldActive {
			reason = types.StopReasonShieldFloor
		}

		s.stop(reason)

		return
	}

	s.placeOrder(sig, stake)
}

// placeOrder runs the proposal/buy/settlement leg. operationInFlight is set
// before the first await and released on every path out. The connection is
// resolved fresh for each attempt; after a transport drop this is what
// triggers the multiplexer's re-dial.
func (s *Session) placeOrder(sig types.Signal, stake decimal.Decimal) {
	s.operationInFlight = true
	defer func() {
		s.operationInFlight = false
	}()

	s.state = types.SessionStateOrderPending

	conn, err := s.connect(s.ctx)
	if err != nil {
		s.handleBrokerError("connect", err)
		return
	}

	proposal, err := conn.Proposal(s.ctx, broker.ProposalParams{
		Direction:     sig.Direction,
		Kind:          sig.Kind,
		Barrier:       sig.Barrier,
		Stake:         stake,
		Currency:      s.currency,
		Symbol:        s.symbol,
		DurationTicks: 1,
	})
	if err != nil {
		s.handleBrokerError("proposal", err)
		return
	}

	pending := types.PendingOrder{
		SessionID:   s.accountID,
		ProposalID:  proposal.ID,
		Price:       proposal.AskPrice,
		Stake:       stake,
		RequestedAt: time.Now(),
	}

	contractID, err := conn.Buy(s.ctx, pending.ProposalID, pending.Price)
	if err != nil {
		s.handleBrokerError("buy", err)
		return
	}

	pending.ContractID = optional.Some(contractID)

	orderID := uuid.New().String()
	order := persistence.OrderRecord{
		ID:         orderID,
		AccountID:  s.accountID,
		Mode:       s.mode,
		ContractID: pending.ContractID,
		Direction:  sig.Direction,
		Kind:       sig.Kind,
		Barrier:    sig.Barrier,
		Stake:      pending.Stake,
		Payout:     proposal.Payout,
		Policy:     sig.Policy,
		Result:     persistence.OrderResultOpen,
		PlacedAt:   pending.RequestedAt,
	}

	if err := s.gateway.RecordOrder(order); err != nil {
		s.logger.Warn("failed to journal order",
			zap.String("account_id", s.accountID), zap.Error(err))
	}

	s.lastDirection = sig.Direction
	s.lastKind = sig.Kind
	s.state = types.SessionStateContractOpen

	s.logger.Info("order placed",
		zap.String("account_id", s.accountID),
		zap.String("direction", string(sig.Direction)),
		zap.String("policy", sig.Policy),
		zap.String("stake", stake.String()),
		zap.String("contract_id", contractID))

	if err := conn.SubscribeContract(s.ctx, contractID, s.contractHandler(orderID, contractID)); err != nil {
		s.handleBrokerError("contract subscription", err)
		return
	}

	s.awaitSettlement(orderID, pending)
}

// contractHandler routes the terminal update into the settlement channel.
// It runs on the connection's reader goroutine; if the session is already
// gone the result is journaled as discarded instead.
func (s *Session) contractHandler(orderID, contractID string) broker.ContractHandler {
	return func(update broker.ContractUpdate) {
		if !update.Terminal() {
			return
		}

		settlement := update.Settlement(contractID)

		select {
		case <-s.done:
			_ = s.gateway.SettleOrder(orderID, persistence.OrderResultDiscarded,
				settlement.Profit, settlement.SoldAt)

			return
		default:
		}

		select {
		case s.settlements <- settlement:
		default:
			s.logger.Warn("settlement channel full, dropping update",
				zap.String("account_id", s.accountID))
		}
	}
}

func (s *Session) awaitSettlement(orderID string, pending types.PendingOrder) {
	timer := time.NewTimer(settleTimeout)
	defer timer.Stop()

	select {
	case settlement := <-s.settlements:
		s.settle(orderID, pending, settlement)
	case <-timer.C:
		s.logger.Warn("no settlement within timeout, abandoning attempt",
			zap.String("account_id", s.accountID))
		s.state = types.SessionStateSignalWait
	case <-s.done:
	}
}

// settle applies win/loss bookkeeping, persists the outcome and decides
// whether the session continues.
func (s *Session) settle(orderID string, pending types.PendingOrder, settlement types.Settlement) {
	s.state = types.SessionStateSettling

	result := persistence.OrderResultLost
	if settlement.Won {
		result = persistence.OrderResultWon
		s.riskSt.ApplyWin(settlement.Profit)
	} else {
		s.riskSt.ApplyLoss(pending.Stake)
	}

	s.riskMgr.UpdateShield(s.riskSt)

	if err := s.gateway.SettleOrder(orderID, result, settlement.Profit, settlement.SoldAt); err != nil {
		s.logger.Warn("failed to journal settlement",
			zap.String("account_id", s.accountID), zap.Error(err))
	}

	if err := s.gateway.UpdateSessionBalance(s.accountID, s.riskSt.Balance); err != nil {
		s.logger.Warn("failed to persist balance",
			zap.String("account_id", s.accountID), zap.Error(err))
	}

	won := settlement.Won
	s.publish(types.NotificationUpdated, fmt.Sprintf("contract settled: %s", result), &won)

	s.logger.Info("contract settled",
		zap.String("account_id", s.accountID),
		zap.Bool("won", settlement.Won),
		zap.String("profit", settlement.Profit.String()),
		zap.String("balance", s.riskSt.Balance.String()))

	switch {
	case s.riskMgr.TargetReached(s.riskSt):
		s.stop(types.StopReasonProfitTarget)
	case s.riskMgr.FloorBreached(s.riskSt) && s.riskSt.ShieldActive:
		s.stop(types.StopReasonShieldFloor)
	case s.riskMgr.FloorBreached(s.riskSt):
		s.stop(types.StopReasonStopLoss)
	default:
		s.state = types.SessionStateSignalWait
	}
}

// handleBrokerError converts a broker failure into a state transition. Only
// an insufficient-balance rejection stops the session. Everything else,
// authentication failures included, is a connection-level condition: the
// attempt is abandoned and the next entry re-resolves a live connection.
func (s *Session) handleBrokerError(op string, err error) {
	if errors.HasCode(err, errors.ErrCodeInsufficientBalance) {
		s.logger.Error("broker rejected order for insufficient balance",
			zap.String("account_id", s.accountID),
			zap.String("op", op),
			zap.Error(err))

		s.stop(types.StopReasonInsufficientBalance)

		return
	}

	if errors.IsRecoverable(err) {
		s.logger.Warn("broker error, attempt aborted",
			zap.String("account_id", s.accountID),
			zap.String("op", op),
			zap.Error(err))
	} else {
		s.logger.Error("connection poisoned, will reconnect on next attempt",
			zap.String("account_id", s.accountID),
			zap.String("op", op),
			zap.Error(err))
	}

	_ = s.gateway.AppendLog(s.accountID, "WARN", fmt.Sprintf("%s failed: %v", op, err))

	s.state = types.SessionStateSignalWait
}

// stop moves the session to the terminal state, persists the reason and
// notifies subscribers before the registry drops the entry.
func (s *Session) stop(reason types.StopReason) {
	s.state = types.SessionStateStopped

	message := fmt.Sprintf("session stopped: %s", humanReason(reason))

	if err := s.gateway.StopSession(s.accountID, string(reason)); err != nil {
		s.logger.Warn("failed to persist stop",
			zap.String("account_id", s.accountID), zap.Error(err))
	}

	_ = s.gateway.AppendLog(s.accountID, "INFO", message)

	s.publish(notificationFor(reason), message, nil)

	s.logger.Info("session stopped",
		zap.String("account_id", s.accountID),
		zap.String("reason", string(reason)),
		zap.String("balance", s.riskSt.Balance.String()))

	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
	})

	if s.onStop != nil {
		s.onStop(s.accountID, reason)
	}
}

func (s *Session) publish(t types.NotificationType, message string, won *bool) {
	balance, _ := s.riskSt.Balance.Float64()
	profit, _ := s.riskSt.Profit().Float64()

	s.sink.Publish(types.Notification{
		Type:      t,
		AccountID: s.accountID,
		Strategy:  s.mode,
		Message:   message,
		Balance:   balance,
		Profit:    profit,
		Won:       won,
		Time:      time.Now(),
	})
}

// payoutRateFor picks the payout estimate for the contract shape about to be
// priced. Recovery contracts carry their own configured rate.
func (s *Session) payoutRateFor(sig types.Signal) decimal.Decimal {
	if sig.Kind == types.ContractKindUnderOver {
		return decimal.NewFromFloat(s.modeCfg.RecoveryPayoutRate)
	}

	return decimal.NewFromFloat(s.modeCfg.PayoutRate)
}

func humanReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonProfitTarget:
		return "profit target reached"
	case types.StopReasonStopLoss:
		return "stop-loss limit breached"
	case types.StopReasonShieldFloor:
		return "shield floor breached, profit locked in"
	case types.StopReasonInsufficientBalance:
		return "insufficient balance"
	case types.StopReasonDeactivated:
		return "deactivated by request"
	default:
		return string(reason)
	}
}

func notificationFor(reason types.StopReason) types.NotificationType {
	switch reason {
	case types.StopReasonProfitTarget:
		return types.NotificationStoppedProfit
	case types.StopReasonShieldFloor:
		return types.NotificationStoppedShield
	default:
		return types.NotificationStoppedLoss
	}
}
