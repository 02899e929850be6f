// Package broker maintains authenticated websocket connections to the
// contract broker and correlates the duplex request/response traffic on them.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

const (
	dialInitialInterval = 500 * time.Millisecond
	dialMaxInterval     = 10 * time.Second
	dialMaxElapsed      = 30 * time.Second
)

// poolEntry serializes dial/authorize per credential. Holding the entry lock
// instead of a pool-wide one means a slow credential never delays the others.
// gen identifies the dial attempt a close callback belongs to, so a stale
// close can never evict a newer connection on the same token.
type poolEntry struct {
	mu   sync.Mutex
	conn *Connection
	gen  uint64
}

// Multiplexer pools connections by credential token: one authenticated
// connection per credential, never shared across credentials. Connect is an
// atomic check-then-create per token, so concurrent activations for the same
// credential cannot race two dials while unrelated credentials proceed in
// parallel.
type Multiplexer struct {
	cfg    config.BrokerConfig
	logger *logger.Logger

	mu      sync.Mutex // guards the entries map only
	entries map[string]*poolEntry
}

// NewMultiplexer creates an empty pool.
func NewMultiplexer(cfg config.BrokerConfig, log *logger.Logger) *Multiplexer {
	return &Multiplexer{
		cfg:     cfg,
		logger:  log,
		entries: make(map[string]*poolEntry),
	}
}

func (m *Multiplexer) entry(token string) *poolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[token]
	if !ok {
		e = &poolEntry{}
		m.entries[token] = e
	}

	return e
}

// Connect returns the live connection for a credential token, dialing and
// authorizing a new one if none exists. A transport close drops the pool
// entry, so the next Connect for the token transparently re-dials and
// re-authenticates. An authorization failure releases the connection so a
// later attempt starts clean.
func (m *Multiplexer) Connect(ctx context.Context, token string) (*Connection, Account, error) {
	e := m.entry(token)
	e.mu.Lock()

	if conn := e.conn; conn != nil && !conn.Closed() {
		e.mu.Unlock()

		// Already authorized; re-fetch the account snapshot for the caller.
		account, err := conn.authorize(ctx, token)
		if err != nil {
			return nil, Account{}, err
		}

		return conn, account, nil
	}

	// Hold the token's lock through dial and authorize so a concurrent Connect
	// for the same credential waits instead of opening a second connection.
	// The connection's close callback also takes this lock, so every Close
	// below must happen after the unlock.
	ws, err := m.dial(ctx)
	if err != nil {
		e.mu.Unlock()
		return nil, Account{}, err
	}

	e.gen++
	gen := e.gen

	conn := newConnection(ws, m.logger, connOptions{
		pingInterval:   time.Duration(m.cfg.PingIntervalSeconds) * time.Second,
		requestTimeout: time.Duration(m.cfg.RequestTimeoutSeconds) * time.Second,
		onClose: func() {
			m.release(token, gen)
		},
	})

	account, err := conn.authorize(ctx, token)
	if err != nil {
		e.mu.Unlock()
		conn.Close()

		return nil, Account{}, err
	}

	e.conn = conn
	e.mu.Unlock()

	m.logger.Info("broker connection established",
		zap.String("login_id", account.LoginID),
		zap.String("currency", account.Currency))

	return conn, account, nil
}

// ConnectFeed opens an unauthenticated connection for the shared tick feed.
// Feed connections live outside the credential pool; the caller owns their
// lifecycle.
func (m *Multiplexer) ConnectFeed(ctx context.Context, onClose func()) (*Connection, error) {
	ws, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}

	conn := newConnection(ws, m.logger, connOptions{
		pingInterval:   time.Duration(m.cfg.PingIntervalSeconds) * time.Second,
		requestTimeout: time.Duration(m.cfg.RequestTimeoutSeconds) * time.Second,
		onClose:        onClose,
	})

	m.logger.Info("feed connection established", zap.String("endpoint", m.cfg.Endpoint))

	return conn, nil
}

// dial opens the websocket with exponential backoff. Transient dial failures
// retry until the elapsed ceiling; context cancellation aborts immediately.
func (m *Multiplexer) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dialInitialInterval
	policy.MaxInterval = dialMaxInterval
	policy.MaxElapsedTime = dialMaxElapsed

	var ws *websocket.Conn

	operation := func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.Endpoint, nil)
		if err != nil {
			m.logger.Warn("broker dial failed, retrying",
				zap.String("endpoint", m.cfg.Endpoint),
				zap.Error(err))

			return err
		}

		ws = conn

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDialFailed, err, "failed to dial %s", m.cfg.Endpoint)
	}

	return ws, nil
}

// release drops the pool slot held by one dial attempt. Called from the
// connection's close path, so it must not call back into the connection.
func (m *Multiplexer) release(token string, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[token]
	m.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	if e.gen == gen {
		e.conn = nil
	}
	e.mu.Unlock()
}

// ConnectionCount reports the number of pooled live connections.
func (m *Multiplexer) ConnectionCount() int {
	m.mu.Lock()
	entries := make([]*poolEntry, 0, len(m.entries))

	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	count := 0

	for _, e := range entries {
		e.mu.Lock()
		if e.conn != nil {
			count++
		}
		e.mu.Unlock()
	}

	return count
}

// Shutdown closes every pooled connection.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*poolEntry)
	m.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		conn := e.conn
		e.conn = nil
		e.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
	}
}
