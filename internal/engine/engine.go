// Package engine wires the tick feed, broker pool, persistence, notification
// hub and session registry into one runnable trading engine.
package engine

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/broker"
	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/notify"
	"github.com/apexalgo/ticktrader/internal/persistence"
	"github.com/apexalgo/ticktrader/internal/session"
	"github.com/apexalgo/ticktrader/internal/tickstream"
	"github.com/apexalgo/ticktrader/internal/types"
)

const feedRetryDelay = 3 * time.Second

// Engine owns every long-lived component and their lifecycles.
type Engine struct {
	cfg    *config.Config
	logger *logger.Logger

	stream   *tickstream.Stream
	mux      *broker.Multiplexer
	gateway  persistence.Gateway
	hub      *notify.Hub
	registry *session.Registry

	httpSrv *http.Server
	feed    atomic.Pointer[broker.Connection]

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool
}

// New assembles an engine from configuration. Nothing connects yet; Start
// brings the feed and the notification server up.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	gateway, err := persistence.NewDuckDBGateway(cfg.Persistence.Path, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:     cfg,
		logger:  log,
		stream:  tickstream.NewStream(cfg.Engine.WindowCapacity, log),
		mux:     broker.NewMultiplexer(cfg.Broker, log),
		gateway: gateway,
		hub:     notify.NewHub(log),
		ctx:     ctx,
		cancel:  cancel,
	}

	e.registry = session.NewRegistry(cfg, e.connect, gateway, e.hub, log)

	return e, nil
}

// connect adapts the multiplexer to the registry's connector shape.
func (e *Engine) connect(ctx context.Context, token string) (session.Broker, broker.Account, error) {
	conn, account, err := e.mux.Connect(ctx, token)
	if err != nil {
		return nil, broker.Account{}, err
	}

	return conn, account, nil
}

// Start brings up the tick feed, the notification endpoint and every session
// that was live before the last shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.stream.Attach("sessions", e.registry.OnTick)

	if err := e.startFeed(ctx); err != nil {
		return err
	}

	e.startNotifyServer()
	e.rehydrate(ctx)

	e.logger.Info("engine started",
		zap.String("symbol", e.cfg.Broker.Symbol),
		zap.Int("window_capacity", e.cfg.Engine.WindowCapacity),
		zap.Int("sessions", e.registry.Count()))

	return nil
}

// Activate starts a session for an account.
func (e *Engine) Activate(ctx context.Context, req types.ActivationRequest) error {
	return e.registry.Activate(ctx, req)
}

// Deactivate removes an account's session.
func (e *Engine) Deactivate(accountID string) error {
	return e.registry.Deactivate(accountID)
}

// SessionCount reports the live session count.
func (e *Engine) SessionCount() int {
	return e.registry.Count()
}

// Shutdown stops every component. Safe to call once.
func (e *Engine) Shutdown() {
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}

	e.cancel()

	if e.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.httpSrv.Shutdown(shutdownCtx)
		cancel()
	}

	e.registry.Shutdown()

	if feed := e.feed.Load(); feed != nil {
		feed.Close()
	}

	e.mux.Shutdown()
	e.hub.Stop()

	if err := e.gateway.Close(); err != nil {
		e.logger.Warn("failed to close persistence gateway", zap.Error(err))
	}

	e.logger.Info("engine stopped")
}

// startFeed opens the shared feed connection and subscribes the instrument.
// A transport close triggers a background reconnect for the life of the
// engine.
func (e *Engine) startFeed(ctx context.Context) error {
	conn, err := e.mux.ConnectFeed(ctx, e.onFeedClosed)
	if err != nil {
		return err
	}

	err = conn.SubscribeTicks(ctx, e.cfg.Broker.Symbol, func(quote float64, epoch int64) {
		e.stream.Push(tickstream.RawTick{Quote: quote, Epoch: epoch})
	})
	if err != nil {
		conn.Close()

		return err
	}

	e.feed.Store(conn)

	return nil
}

func (e *Engine) onFeedClosed() {
	if e.shutdown.Load() {
		return
	}

	e.logger.Warn("feed connection lost, reconnecting")

	go e.reconnectFeed()
}

func (e *Engine) reconnectFeed() {
	for !e.shutdown.Load() {
		if err := e.startFeed(e.ctx); err == nil {
			e.logger.Info("feed connection restored")
			return
		}

		select {
		case <-time.After(feedRetryDelay):
		case <-e.ctx.Done():
			return
		}
	}
}

// startNotifyServer exposes the notification hub when an address is set.
func (e *Engine) startNotifyServer() {
	addr := e.cfg.Server.NotifyListenAddr
	if addr == "" {
		return
	}

	router := mux.NewRouter()
	e.hub.Routes(router)

	e.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		e.logger.Info("notification endpoint listening", zap.String("addr", addr))

		if err := e.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("notification server failed", zap.Error(err))
		}
	}()
}

// rehydrate restarts every session that was active at the last shutdown.
// A session that fails to come back is logged and skipped, not fatal.
func (e *Engine) rehydrate(ctx context.Context) {
	records, err := e.gateway.ReadActiveSessions()
	if err != nil {
		e.logger.Error("failed to read active sessions", zap.Error(err))
		return
	}

	for _, record := range records {
		if err := e.registry.Activate(ctx, record.Request); err != nil {
			e.logger.Warn("failed to rehydrate session",
				zap.String("account_id", record.Request.AccountID),
				zap.Error(err))
		}
	}
}
