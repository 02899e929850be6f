package session

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/broker"
	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/notify"
	"github.com/apexalgo/ticktrader/internal/persistence"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// Connector obtains an authenticated connection for a credential token.
// The engine backs it with the multiplexer; tests back it with a fake. The
// registry calls it once for the account snapshot and again, via the
// session's BrokerSource, on every entry attempt.
type Connector func(ctx context.Context, token string) (Broker, broker.Account, error)

// Registry owns the live session set. Raw map access never leaves this type;
// everything goes through Activate, Deactivate and the tick fan-out.
type Registry struct {
	cfg     *config.Config
	connect Connector
	gateway persistence.Gateway
	sink    notify.Sink
	logger  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config, connect Connector, gateway persistence.Gateway, sink notify.Sink, log *logger.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		connect:  connect,
		gateway:  gateway,
		sink:     sink,
		logger:   log,
		sessions: make(map[string]*Session),
	}
}

// Activate validates the request, connects the credential and starts a
// session worker. One session per account.
func (r *Registry) Activate(ctx context.Context, req types.ActivationRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	mode, err := r.cfg.Mode(req.Mode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.sessions[req.AccountID]; ok {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeSessionAlreadyActive, "account %s already has a live session", req.AccountID)
	}
	r.mu.Unlock()

	_, account, err := r.connect(ctx, req.CredentialToken)
	if err != nil {
		return err
	}

	// The broker balance is authoritative when the caller did not pin one.
	if req.InitialBalance == 0 {
		req.InitialBalance, _ = account.Balance.Float64()
	}

	token := req.CredentialToken

	sess, err := New(Params{
		Request: req,
		Mode:    mode,
		Symbol:  r.cfg.Broker.Symbol,
		Connect: func(ctx context.Context) (Broker, error) {
			conn, _, err := r.connect(ctx, token)
			return conn, err
		},
		Gateway: r.gateway,
		Sink:    r.sink,
		Logger:  r.logger,
		OnStop:  r.remove,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.sessions[req.AccountID]; ok {
		r.mu.Unlock()
		sess.Deactivate()

		return errors.Newf(errors.ErrCodeSessionAlreadyActive, "account %s already has a live session", req.AccountID)
	}

	r.sessions[req.AccountID] = sess
	r.mu.Unlock()

	if err := r.gateway.SaveSession(persistence.SessionRecord{
		Request:   req,
		Balance:   decimal.NewFromFloat(req.InitialBalance).Round(2),
		Active:    true,
		UpdatedAt: time.Now(),
	}); err != nil {
		r.logger.Warn("failed to persist session activation",
			zap.String("account_id", req.AccountID), zap.Error(err))
	}

	_ = r.gateway.AppendLog(req.AccountID, "INFO", "session activated")

	r.sink.Publish(types.Notification{
		Type:      types.NotificationCreated,
		AccountID: req.AccountID,
		Strategy:  req.Mode,
		Balance:   req.InitialBalance,
		Time:      time.Now(),
	})

	r.logger.Info("session activated",
		zap.String("account_id", req.AccountID),
		zap.String("mode", req.Mode),
		zap.String("risk_profile", string(req.RiskProfile)))

	return nil
}

// Deactivate removes a session from the live set. Safe while the session has
// an order in flight; any late settlement is journaled as discarded.
func (r *Registry) Deactivate(accountID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[accountID]
	if ok {
		delete(r.sessions, accountID)
	}
	r.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrCodeSessionNotFound, "no live session for account %s", accountID)
	}

	sess.Deactivate()
	r.logger.Info("session deactivated", zap.String("account_id", accountID))

	return nil
}

// OnTick fans a feed update out to every live session. Each delivery is a
// non-blocking mailbox push, so one stalled session cannot delay the rest.
func (r *Registry) OnTick(tick types.Tick, window []types.Tick) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))

	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.OnTick(tick, window)
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Shutdown deactivates every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))

	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}

	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Deactivate()
	}
}

// remove drops a session that stopped on its own.
func (r *Registry) remove(accountID string, reason types.StopReason) {
	r.mu.Lock()
	delete(r.sessions, accountID)
	r.mu.Unlock()
}
