// Package tickstream normalizes raw price updates into domain ticks,
// retains them in a bounded window and fans them out to session handlers.
package tickstream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/types"
)

// RawTick is an unnormalized price update as received from the feed.
type RawTick struct {
	Quote float64 `json:"quote"`
	Epoch int64   `json:"epoch"`
}

// Handler receives every normalized tick. Handlers run synchronously on the
// ingestion path and must offload heavy work; a slow handler stalls nobody
// else only if it returns promptly.
type Handler func(tick types.Tick, window []types.Tick)

// Stream owns the tick window and the registered handlers.
type Stream struct {
	mu       sync.Mutex
	window   *Window
	handlers map[string]Handler
	order    []string
	log      *logger.Logger
}

// NewStream creates a stream with the given window capacity.
func NewStream(capacity int, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Stream{
		window:   NewWindow(capacity),
		handlers: make(map[string]Handler),
		order:    nil,
		log:      log,
	}
}

// Push normalizes a raw update, appends it to the window and notifies every
// handler synchronously in registration order before returning.
func (s *Stream) Push(raw RawTick) types.Tick {
	tick := types.NewTick(raw.Quote, raw.Epoch)

	s.mu.Lock()
	s.window.Push(tick)
	snapshot := s.window.Snapshot(s.window.Len())

	handlers := make([]Handler, 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(tick, snapshot)
	}

	return tick
}

// Snapshot returns the last n ticks in arrival order.
func (s *Stream) Snapshot(n int) []types.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.window.Snapshot(n)
}

// Attach registers a handler under an id. Re-attaching an existing id
// replaces the handler but keeps its position in the notification order.
func (s *Stream) Attach(id string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[id]; !exists {
		s.order = append(s.order, id)
	}

	s.handlers[id] = handler
	s.log.Debug("tick handler attached", zap.String("handler_id", id))
}

// Detach removes a handler. Unknown ids are ignored.
func (s *Stream) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[id]; !exists {
		return
	}

	delete(s.handlers, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.log.Debug("tick handler detached", zap.String("handler_id", id))
}

// HandlerCount returns the number of attached handlers.
func (s *Stream) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.handlers)
}
