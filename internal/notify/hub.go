// Package notify fans session lifecycle events out to websocket subscribers.
// Delivery is best-effort: a slow or dead subscriber is dropped rather than
// allowed to apply back-pressure to the trading loop.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/types"
)

// Sink receives session lifecycle notifications. Publish must never block.
type Sink interface {
	Publish(n types.Notification)
}

const (
	clientSendBuffer = 16
	clientWriteWait  = 10 * time.Second
	broadcastBuffer  = 64
)

// client is one websocket subscriber. Empty filter fields mean "everything";
// a subscriber may narrow to one account and strategy via query parameters.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	accountID string
	strategy  string
}

// wants reports whether an event passes the client's subscription filter.
func (c *client) wants(ev event) bool {
	if c.accountID != "" && c.accountID != ev.accountID {
		return false
	}

	if c.strategy != "" && c.strategy != ev.strategy {
		return false
	}

	return true
}

// event is a pre-encoded notification tagged with its routing key.
type event struct {
	accountID string
	strategy  string
	data      []byte
}

// Hub is the websocket notification sink. One goroutine owns the client set;
// register, unregister and broadcast all funnel through it.
type Hub struct {
	logger   *logger.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan event

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates the hub and starts its loop.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan event, broadcastBuffer),
		done:       make(chan struct{}),
	}

	go h.run()

	return h
}

// Publish implements Sink. Events are dropped, not queued unboundedly, when
// the hub cannot keep up.
func (h *Hub) Publish(n types.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Warn("failed to encode notification", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- event{accountID: n.AccountID, strategy: n.Strategy, data: data}:
	case <-h.done:
	default:
		h.logger.Warn("notification dropped, broadcast queue full",
			zap.String("account_id", n.AccountID),
			zap.String("type", string(n.Type)))
	}
}

// Routes mounts the websocket endpoint on a router.
func (h *Hub) Routes(r *mux.Router) {
	r.HandleFunc("/ws/notifications", h.handleSubscribe)
}

// Stop disconnects every subscriber and ends the hub loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	query := r.URL.Query()

	c := &client{
		conn:      conn,
		send:      make(chan []byte, clientSendBuffer),
		accountID: query.Get("account_id"),
		strategy:  query.Get("strategy"),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) run() {
	clients := make(map[*client]struct{})

	defer func() {
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.logger.Debug("notification subscriber connected",
				zap.Int("subscribers", len(clients)))

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}

		case ev := <-h.broadcast:
			for c := range clients {
				if !c.wants(ev) {
					continue
				}

				select {
				case c.send <- ev.data:
				default:
					// Slow consumer: drop it so the hub never stalls.
					delete(clients, c)
					close(c.send)
				}
			}

		case <-h.done:
			return
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}

		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))

		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
