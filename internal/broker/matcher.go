package broker

import (
	"container/list"
	"encoding/json"
	"sync"

	"github.com/apexalgo/ticktrader/pkg/errors"
)

// fifoFamilies are the message families for which the upstream protocol does
// not reliably echo the caller's req_id: proposal and buy acknowledgements
// sometimes come back carrying only the family tag. For those the matcher
// falls back to oldest-pending-first within the family. This is a known
// protocol limitation kept for compatibility, not a bug to fix here.
var fifoFamilies = map[string]bool{
	FamilyProposal: true,
	FamilyBuy:      true,
}

type waiterResult struct {
	raw json.RawMessage
	err error
}

// waiter is one pending request. Its channel is buffered so the reader
// goroutine never blocks on a caller that already timed out, and resolve is
// guarded so a waiter settles exactly once.
type waiter struct {
	family  string
	reqID   int64
	ch      chan waiterResult
	settled bool
}

func (w *waiter) resolve(res waiterResult) {
	if w.settled {
		return
	}

	w.settled = true
	w.ch <- res
}

// matcher is the two-tier request correlation table: exact req_id lookup
// first, then oldest-pending-of-family for the families that lack the echo
// guarantee. All access is serialized by its mutex; it is shared by every
// session using the same connection.
type matcher struct {
	mu       sync.Mutex
	byReqID  map[int64]*list.Element
	byFamily map[string]*list.List // of *waiter, oldest first
	closed   bool
}

func newMatcher() *matcher {
	return &matcher{
		byReqID:  make(map[int64]*list.Element),
		byFamily: make(map[string]*list.List),
		closed:   false,
	}
}

// add registers a pending request. It fails once the connection is closed.
func (m *matcher) add(family string, reqID int64) (*waiter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New(errors.ErrCodeConnectionClosed, "connection closed")
	}

	w := &waiter{
		family:  family,
		reqID:   reqID,
		ch:      make(chan waiterResult, 1),
		settled: false,
	}

	l, ok := m.byFamily[family]
	if !ok {
		l = list.New()
		m.byFamily[family] = l
	}

	m.byReqID[reqID] = l.PushBack(w)

	return w, nil
}

// remove unregisters a pending request, e.g. after a caller-side timeout.
func (m *matcher) remove(reqID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detachLocked(reqID)
}

func (m *matcher) detachLocked(reqID int64) *waiter {
	elem, ok := m.byReqID[reqID]
	if !ok {
		return nil
	}

	delete(m.byReqID, reqID)

	w, _ := elem.Value.(*waiter)
	if l, ok := m.byFamily[w.family]; ok {
		l.Remove(elem)
	}

	return w
}

// dispatch routes an inbound response to its waiter. Tier one matches the
// echoed req_id exactly; tier two resolves the oldest pending request of the
// family when the family is known to drop the echo. It returns false when no
// waiter claimed the message.
func (m *matcher) dispatch(family string, reqID int64, res waiterResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reqID != 0 {
		if w := m.detachLocked(reqID); w != nil {
			w.resolve(res)
			return true
		}
	}

	if !fifoFamilies[family] {
		return false
	}

	l, ok := m.byFamily[family]
	if !ok || l.Len() == 0 {
		return false
	}

	front := l.Front()
	w, _ := front.Value.(*waiter)
	l.Remove(front)
	delete(m.byReqID, w.reqID)
	w.resolve(res)

	return true
}

// pendingCount reports the number of outstanding requests.
func (m *matcher) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byReqID)
}

// closeAll rejects every pending request with ConnectionClosed exactly once
// and refuses further registrations.
func (m *matcher) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true

	err := errors.New(errors.ErrCodeConnectionClosed, "connection closed")
	for reqID, elem := range m.byReqID {
		w, _ := elem.Value.(*waiter)
		w.resolve(waiterResult{raw: nil, err: err})
		delete(m.byReqID, reqID)
	}

	for family := range m.byFamily {
		delete(m.byFamily, family)
	}
}
