package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexalgo/ticktrader/internal/broker"
	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/persistence"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// fakeBroker settles every purchased contract after a short delay and tracks
// how many orders are concurrently open.
type fakeBroker struct {
	mu sync.Mutex

	proposalErr error
	buyErr      error
	winProfit   decimal.Decimal
	won         bool
	autoSettle  bool

	proposals   int
	buys        int
	openOrders  int
	maxOpen     int
	lastHandler broker.ContractHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		winProfit:  decimal.NewFromFloat(0.32),
		won:        true,
		autoSettle: true,
	}
}

func (f *fakeBroker) Proposal(_ context.Context, p broker.ProposalParams) (types.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.proposals++

	if f.proposalErr != nil {
		return types.Proposal{}, f.proposalErr
	}

	return types.Proposal{
		ID:         "prop-1",
		AskPrice:   p.Stake,
		Payout:     p.Stake.Mul(decimal.NewFromFloat(1.92)).Round(2),
		ReceivedAt: time.Now(),
	}, nil
}

func (f *fakeBroker) Buy(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buyErr != nil {
		return "", f.buyErr
	}

	f.buys++
	f.openOrders++

	if f.openOrders > f.maxOpen {
		f.maxOpen = f.openOrders
	}

	return "900123", nil
}

func (f *fakeBroker) SubscribeContract(_ context.Context, contractID string, handler broker.ContractHandler) error {
	f.mu.Lock()
	f.lastHandler = handler
	auto := f.autoSettle
	profit := f.winProfit
	won := f.won
	f.mu.Unlock()

	if !auto {
		return nil
	}

	go func() {
		time.Sleep(10 * time.Millisecond)

		f.mu.Lock()
		f.openOrders--
		f.mu.Unlock()

		update := broker.ContractUpdate{
			ContractID: 900123,
			Status:     "lost",
			IsSold:     1,
			SellTime:   time.Now().Unix(),
		}
		if won {
			update.Status = "won"
			update.Profit, _ = profit.Float64()
		}

		handler(update)
	}()

	return nil
}

// fakeGateway records every call for assertions.
type fakeGateway struct {
	mu          sync.Mutex
	orders      []persistence.OrderRecord
	settlements map[string]persistence.OrderResult
	balances    []decimal.Decimal
	stopped     []string
	logs        []string
	saved       []persistence.SessionRecord
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{settlements: make(map[string]persistence.OrderResult)}
}

func (f *fakeGateway) RecordOrder(order persistence.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.orders = append(f.orders, order)

	return nil
}

func (f *fakeGateway) SettleOrder(orderID string, result persistence.OrderResult, _ decimal.Decimal, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.settlements[orderID] = result

	return nil
}

func (f *fakeGateway) SaveSession(record persistence.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saved = append(f.saved, record)

	return nil
}

func (f *fakeGateway) UpdateSessionBalance(_ string, balance decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances = append(f.balances, balance)

	return nil
}

func (f *fakeGateway) StopSession(_ string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = append(f.stopped, reason)

	return nil
}

func (f *fakeGateway) ReadActiveSessions() ([]persistence.SessionRecord, error) {
	return nil, nil
}

func (f *fakeGateway) AppendLog(_ string, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logs = append(f.logs, message)

	return nil
}

func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) stopReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.stopped...)
}

// fakeSink collects published notifications.
type fakeSink struct {
	mu     sync.Mutex
	events []types.Notification
}

func (f *fakeSink) Publish(n types.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, n)
}

func (f *fakeSink) byType(t types.NotificationType) []types.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Notification

	for _, n := range f.events {
		if n.Type == t {
			out = append(out, n)
		}
	}

	return out
}

func testMode() config.ModeConfig {
	return config.ModeConfig{
		Policy:                   "parity_run",
		RunLength:                3,
		PayoutRate:               0.92,
		RecoveryPayoutRate:       1.20,
		RecoveryActivationLosses: 2,
		RecoveryBarrier:          4,
		MinStake:                 0.35,
		ConservativeLossCeiling:  5,
		ShieldActivationFraction: 0.4,
		ShieldProtectionFactor:   0.5,
	}
}

func testRequest() types.ActivationRequest {
	return types.ActivationRequest{
		AccountID:       "acc-1",
		CredentialToken: "tok",
		Currency:        "USD",
		Mode:            "zeus",
		RiskProfile:     types.RiskProfileModerate,
		BaseStake:       0.35,
		ProfitTarget:    100,
		StopLossLimit:   50,
		ShieldEnabled:   true,
		InitialBalance:  500,
	}
}

// evenWindow yields a window whose last three parities are all even, which
// makes the contrarian policy propose ODD.
func evenWindow(n int) []types.Tick {
	window := make([]types.Tick, 0, n)

	for i := 0; i < n; i++ {
		window = append(window, types.NewTick(8631.42, int64(1700000000+i)))
	}

	return window
}

func startSession(t *testing.T, fb *fakeBroker, fg *fakeGateway, fs *fakeSink) *Session {
	return startSessionWithSource(t, func(context.Context) (Broker, error) {
		return fb, nil
	}, fg, fs)
}

func startSessionWithSource(t *testing.T, source BrokerSource, fg *fakeGateway, fs *fakeSink) *Session {
	sess, err := New(Params{
		Request: testRequest(),
		Mode:    testMode(),
		Symbol:  "R_100",
		Connect: source,
		Gateway: fg,
		Sink:    fs,
		Logger:  logger.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(sess.Deactivate)

	return sess
}

func pushTick(sess *Session, window []types.Tick) {
	sess.OnTick(window[len(window)-1], window)
}

func TestWinningRoundUpdatesBalance(t *testing.T) {
	fb := newFakeBroker()
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fg.mu.Lock()
		defer fg.mu.Unlock()

		return len(fg.balances) == 1
	}, 2*time.Second, 5*time.Millisecond)

	fg.mu.Lock()
	balance := fg.balances[0]
	order := fg.orders[0]
	result := fg.settlements[order.ID]
	fg.mu.Unlock()

	assert.True(t, balance.Equal(decimal.NewFromFloat(500.32)), "got %s", balance)
	assert.Equal(t, persistence.OrderResultWon, result)
	assert.Equal(t, types.DirectionOdd, order.Direction)
	assert.Equal(t, "parity_run", order.Policy)
	assert.True(t, order.ContractID.IsSome())

	updated := fs.byType(types.NotificationUpdated)
	require.NotEmpty(t, updated)
	require.NotNil(t, updated[0].Won)
	assert.True(t, *updated[0].Won)
}

func TestAtMostOneOpenOrder(t *testing.T) {
	fb := newFakeBroker()
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	window := evenWindow(3)

	// Flood the mailbox while orders are settling; re-entry must never open
	// a second concurrent order.
	for i := 0; i < 200; i++ {
		pushTick(sess, window)
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		return fb.buys >= 2
	}, 2*time.Second, 5*time.Millisecond)

	fb.mu.Lock()
	maxOpen := fb.maxOpen
	fb.mu.Unlock()

	assert.Equal(t, 1, maxOpen)
}

func TestRecoverableBrokerErrorRetriesOnNextTick(t *testing.T) {
	fb := newFakeBroker()
	fb.proposalErr = errors.New(errors.ErrCodeTimeout, "no proposal response")
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		return fb.proposals >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Clear the failure; the next tick must retry and succeed.
	fb.mu.Lock()
	fb.proposalErr = nil
	fb.mu.Unlock()

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fg.mu.Lock()
		defer fg.mu.Unlock()

		return len(fg.balances) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, fg.stopReasons())
}

func TestTradingResumesAfterConnectionLoss(t *testing.T) {
	// The first broker behaves like a dead connection: every request fails
	// with ConnectionClosed. Each entry attempt resolves the broker fresh, so
	// swapping in a live one stands in for the multiplexer's re-dial.
	dead := newFakeBroker()
	dead.proposalErr = errors.New(errors.ErrCodeConnectionClosed, "connection closed")
	live := newFakeBroker()

	var mu sync.Mutex
	current := dead
	resolves := 0

	source := func(context.Context) (Broker, error) {
		mu.Lock()
		defer mu.Unlock()

		resolves++

		return current, nil
	}

	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSessionWithSource(t, source, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		dead.mu.Lock()
		defer dead.mu.Unlock()

		return dead.proposals >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Transport restored: the next attempt must trade on the new connection.
	mu.Lock()
	current = live
	mu.Unlock()

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fg.mu.Lock()
		defer fg.mu.Unlock()

		return len(fg.balances) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, resolves, 2)
	mu.Unlock()

	assert.Empty(t, fg.stopReasons())
}

func TestAuthFailureRetriesInsteadOfStopping(t *testing.T) {
	fb := newFakeBroker()
	fb.proposalErr = errors.New(errors.ErrCodeAuthFailed, "the token is invalid")
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		return fb.proposals >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// An auth failure poisons the connection, not the session: once the
	// credential authorizes again the session keeps trading.
	assert.Empty(t, fg.stopReasons())

	fb.mu.Lock()
	fb.proposalErr = nil
	fb.mu.Unlock()

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fg.mu.Lock()
		defer fg.mu.Unlock()

		return len(fg.balances) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, fg.stopReasons())
}

func TestInsufficientBalanceStopsSession(t *testing.T) {
	fb := newFakeBroker()
	fb.buyErr = errors.New(errors.ErrCodeInsufficientBalance, "not enough funds")
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		return len(fg.stopReasons()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, string(types.StopReasonInsufficientBalance), fg.stopReasons()[0])
	assert.NotEmpty(t, fs.byType(types.NotificationStoppedLoss))
}

func TestLossBookkeepingFeedsRecovery(t *testing.T) {
	fb := newFakeBroker()
	fb.won = false
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	// Two straight losses put the session into recovery; the next order must
	// switch to the under/over recovery shape.
	for i := 0; i < 3; i++ {
		pushTick(sess, evenWindow(3))

		want := i + 1
		require.Eventually(t, func() bool {
			fg.mu.Lock()
			defer fg.mu.Unlock()

			return len(fg.balances) >= want
		}, 2*time.Second, 5*time.Millisecond)
	}

	fg.mu.Lock()
	defer fg.mu.Unlock()

	require.Len(t, fg.orders, 3)
	assert.Equal(t, types.ContractKindParity, fg.orders[0].Kind)
	assert.Equal(t, types.ContractKindParity, fg.orders[1].Kind)
	assert.Equal(t, types.ContractKindUnderOver, fg.orders[2].Kind)
	assert.Equal(t, types.DirectionUnder, fg.orders[2].Direction)
	assert.Equal(t, 4, fg.orders[2].Barrier)
	assert.Equal(t, "recovery", fg.orders[2].Policy)
}

func TestDeactivationDiscardsLateSettlement(t *testing.T) {
	fb := newFakeBroker()
	fb.autoSettle = false
	fg := newFakeGateway()
	fs := &fakeSink{}
	sess := startSession(t, fb, fg, fs)

	pushTick(sess, evenWindow(3))

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		return fb.lastHandler != nil
	}, 2*time.Second, 5*time.Millisecond)

	sess.Deactivate()

	fb.mu.Lock()
	handler := fb.lastHandler
	fb.mu.Unlock()

	handler(broker.ContractUpdate{
		ContractID: 900123,
		Status:     "won",
		Profit:     0.32,
		IsSold:     1,
		SellTime:   time.Now().Unix(),
	})

	fg.mu.Lock()
	defer fg.mu.Unlock()

	require.Len(t, fg.orders, 1)
	assert.Equal(t, persistence.OrderResultDiscarded, fg.settlements[fg.orders[0].ID])
	// The deactivated session's balance was never touched by the settlement.
	assert.Empty(t, fg.balances)
}
