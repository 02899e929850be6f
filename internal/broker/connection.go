package broker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultRequestTimeout = 20 * time.Second

	writeQueueSize = 64
	writeWait      = 10 * time.Second
)

// TickHandler receives every feed update arriving on a connection.
type TickHandler func(quote float64, epoch int64)

// ContractHandler receives settlement-progress updates for one subscribed
// contract.
type ContractHandler func(update ContractUpdate)

// Connection is one authenticated duplex channel to the broker. A single
// writer goroutine serializes all outbound frames and a single reader
// goroutine dispatches inbound frames, so callers on any goroutine may issue
// requests concurrently.
type Connection struct {
	ws     *websocket.Conn
	logger *logger.Logger

	matcher *matcher
	reqSeq  atomic.Int64

	writeCh chan []byte

	pingInterval   time.Duration
	requestTimeout time.Duration

	mu          sync.Mutex
	tickHandler TickHandler
	contracts   map[int64]ContractHandler

	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// connOptions are the transport knobs a multiplexer passes down from config.
type connOptions struct {
	pingInterval   time.Duration
	requestTimeout time.Duration
	onClose        func()
}

func newConnection(ws *websocket.Conn, log *logger.Logger, opts connOptions) *Connection {
	if opts.pingInterval <= 0 {
		opts.pingInterval = defaultPingInterval
	}

	if opts.requestTimeout <= 0 {
		opts.requestTimeout = defaultRequestTimeout
	}

	c := &Connection{
		ws:             ws,
		logger:         log,
		matcher:        newMatcher(),
		writeCh:        make(chan []byte, writeQueueSize),
		pingInterval:   opts.pingInterval,
		requestTimeout: opts.requestTimeout,
		contracts:      make(map[int64]ContractHandler),
		closed:         make(chan struct{}),
		onClose:        opts.onClose,
	}

	go c.writeLoop()
	go c.readLoop()

	return c
}

// nextReqID allocates a correlation key unique for the connection lifetime.
func (c *Connection) nextReqID() int64 {
	return c.reqSeq.Add(1)
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once; every pending
// request is rejected with ConnectionClosed exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		c.matcher.closeAll()

		c.mu.Lock()
		c.tickHandler = nil
		c.contracts = make(map[int64]ContractHandler)
		c.mu.Unlock()

		if c.onClose != nil {
			c.onClose()
		}

		c.logger.Info("broker connection closed")
	})
}

// request sends one frame and awaits the correlated response. The payload
// must already carry the req_id registered with the matcher.
func (c *Connection) request(ctx context.Context, family string, reqID int64, payload any) (json.RawMessage, error) {
	w, err := c.matcher.add(family, reqID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.matcher.remove(reqID)
		return nil, errors.Wrap(errors.ErrCodeMalformedMessage, "failed to encode request", err)
	}

	if err := c.enqueue(data); err != nil {
		c.matcher.remove(reqID)
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.raw, res.err
	case <-ctx.Done():
		c.matcher.remove(reqID)
		return nil, errors.Wrap(errors.ErrCodeTimeout, "request cancelled", ctx.Err())
	case <-timer.C:
		c.matcher.remove(reqID)
		return nil, errors.Newf(errors.ErrCodeTimeout, "no %s response within %s", family, c.requestTimeout)
	case <-c.closed:
		return nil, errors.New(errors.ErrCodeConnectionClosed, "connection closed")
	}
}

// send enqueues a fire-and-forget frame.
func (c *Connection) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMalformedMessage, "failed to encode request", err)
	}

	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	select {
	case c.writeCh <- data:
		return nil
	case <-c.closed:
		return errors.New(errors.ErrCodeConnectionClosed, "connection closed")
	}
}

// writeLoop is the only goroutine that touches the websocket write side. It
// also owns the keep-alive timer so pings share the same serialization.
func (c *Connection) writeLoop() {
	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()

	for {
		select {
		case data := <-c.writeCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("broker write failed", zap.Error(err))
				c.Close()

				return
			}

		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			data, _ := json.Marshal(pingRequest{Ping: 1, ReqID: c.nextReqID()})
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("broker keepalive failed", zap.Error(err))
				c.Close()

				return
			}

		case <-c.closed:
			return
		}
	}
}

// readLoop is the only goroutine that touches the websocket read side.
func (c *Connection) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("broker read failed", zap.Error(err))
			}

			c.Close()

			return
		}

		c.handleFrame(data)
	}
}

func (c *Connection) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("dropping malformed broker frame", zap.Error(err))
		return
	}

	env.raw = data

	switch env.MsgType {
	case FamilyTick:
		c.handleTick(env)
	case FamilyOpenContract:
		c.handleOpenContract(env)
	case FamilyPing:
		// Keep-alive ack, nothing pending on it.
	default:
		c.deliver(env)
	}
}

// deliver resolves the waiter for a request/response frame.
func (c *Connection) deliver(env envelope) {
	res := waiterResult{raw: env.raw, err: nil}
	if env.Error != nil {
		res.err = brokerError(env.MsgType, env.Error)
	}

	if !c.matcher.dispatch(env.MsgType, env.ReqID, res) {
		c.logger.Debug("unclaimed broker frame",
			zap.String("msg_type", env.MsgType),
			zap.Int64("req_id", env.ReqID))
	}
}

// handleTick resolves the subscription ack, then fans the update out to the
// feed handler.
func (c *Connection) handleTick(env envelope) {
	if env.Error != nil {
		c.matcher.dispatch(env.MsgType, env.ReqID, waiterResult{err: brokerError(env.MsgType, env.Error)})
		return
	}

	c.matcher.dispatch(env.MsgType, env.ReqID, waiterResult{raw: env.raw})

	var ev tickEvent
	if err := json.Unmarshal(env.Tick, &ev); err != nil {
		c.logger.Warn("dropping malformed tick", zap.Error(err))
		return
	}

	c.mu.Lock()
	handler := c.tickHandler
	c.mu.Unlock()

	if handler != nil {
		handler(ev.Quote, ev.Epoch)
	}
}

// handleOpenContract resolves the subscription ack, routes the update to the
// contract's handler and drops the route once the contract settles.
func (c *Connection) handleOpenContract(env envelope) {
	if env.Error != nil {
		c.matcher.dispatch(env.MsgType, env.ReqID, waiterResult{err: brokerError(env.MsgType, env.Error)})
		return
	}

	c.matcher.dispatch(env.MsgType, env.ReqID, waiterResult{raw: env.raw})

	var update ContractUpdate
	if err := json.Unmarshal(env.OpenContract, &update); err != nil {
		c.logger.Warn("dropping malformed contract update", zap.Error(err))
		return
	}

	c.mu.Lock()
	handler := c.contracts[update.ContractID]
	if update.Terminal() {
		delete(c.contracts, update.ContractID)
	}
	c.mu.Unlock()

	if handler != nil {
		handler(update)
	}
}

// brokerError maps an upstream error object to a typed error, using the
// message family when the upstream code carries no finer meaning.
func brokerError(family string, e *apiError) error {
	switch e.Code {
	case "AuthorizationRequired", "InvalidToken":
		return errors.Newf(errors.ErrCodeAuthFailed, "broker rejected credentials: %s", e.Message)
	case "InsufficientBalance":
		return errors.New(errors.ErrCodeInsufficientBalance, e.Message)
	case "RateLimit":
		return errors.New(errors.ErrCodeRateLimited, e.Message)
	}

	switch family {
	case FamilyProposal:
		return errors.Newf(errors.ErrCodeProposalFailed, "%s: %s", e.Code, e.Message)
	case FamilyBuy:
		return errors.Newf(errors.ErrCodePurchaseFailed, "%s: %s", e.Code, e.Message)
	case FamilyTick, FamilyOpenContract:
		return errors.Newf(errors.ErrCodeSubscriptionFailed, "%s: %s", e.Code, e.Message)
	default:
		return errors.Newf(errors.ErrCodeBrokerRejected, "%s: %s", e.Code, e.Message)
	}
}
