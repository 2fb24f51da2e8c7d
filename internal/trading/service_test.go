package trading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/internal/events"
	"hedge-core/internal/exchangetest"
	"hedge-core/internal/execution"
	"hedge-core/internal/orchestrator"
	"hedge-core/internal/session"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
	"hedge-core/pkg/exchanges/common"
	"hedge-core/pkg/logger"
)

func init() { logger.Discard() }

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]orchestrator.Outcome
	errs     map[string]error
	final    orchestrator.Progress
}

func (r *outcomeRecorder) BatchStarted(orchestrator.Batch) {}

func (r *outcomeRecorder) ItemFinished(_, label string, outcome orchestrator.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[label] = outcome
	r.errs[label] = err
}

func (r *outcomeRecorder) BatchFinished(_ orchestrator.Batch, p orchestrator.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = p
}

func (r *outcomeRecorder) progress() orchestrator.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

type fixture struct {
	ex  *exchangetest.Fake
	hub *events.Hub
	rec *outcomeRecorder
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := exchangetest.New()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		f.AddMarket(common.MarketInfo{Symbol: sym, Base: sym[:3], Quote: "USDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001})
	}
	f.Books["BTCUSDT"] = common.OrderBook{
		Bids: []common.Level{{Price: 50000, Qty: 1}},
		Asks: []common.Level{{Price: 50010, Qty: 1}},
	}
	f.Books["ETHUSDT"] = common.OrderBook{
		Bids: []common.Level{{Price: 3000, Qty: 10}},
		Asks: []common.Level{{Price: 3001, Qty: 10}},
	}

	sessions := session.NewManager(func(context.Context) (common.Exchange, error) { return f, nil }, session.Config{MaxSize: 4})
	t.Cleanup(sessions.Stop)

	hub := events.NewHub(events.NewBus(), 200)
	rec := &outcomeRecorder{outcomes: map[string]orchestrator.Outcome{}, errs: map[string]error{}}
	orch := orchestrator.New(hub, orchestrator.WithRecorder(rec))
	svc := NewService(orch, sessions, hub, Config{
		Execution:       execution.Config{PollInterval: time.Millisecond, RetryDelay: time.Millisecond},
		RefetchAttempts: 2,
		RefetchDelay:    time.Millisecond,
	})
	return &fixture{ex: f, hub: hub, rec: rec, svc: svc}
}

func (fx *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.svc.orch.Wait(ctx))
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.LongCoinList = []string{"BTC"}
	s.ShortCoinList = nil
	s.EnableShortTrades = false
	s.TotalLongPositionValue = 1000
	s.QuotePreference = []string{"USDC", "USDT"}
	return s
}

func btcLong() common.PositionRisk {
	return common.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0.02", EntryPrice: "50000", BreakEvenPrice: "50000", MarkPrice: "50000"}
}

func ethShort() common.PositionRisk {
	return common.PositionRisk{Symbol: "ETHUSDT", PositionAmt: "-1", EntryPrice: "3000", BreakEvenPrice: "3000", MarkPrice: "3000"}
}

func byType(orders []common.OrderRequest, typ common.OrderType) []common.OrderRequest {
	var out []common.OrderRequest
	for _, o := range orders {
		if o.Type == typ {
			out = append(out, o)
		}
	}
	return out
}

func TestStartTradingRejectsInvalidSettings(t *testing.T) {
	fx := newFixture(t)
	s := testSettings()
	s.Leverage = 0

	_, err := fx.svc.StartTrading(s)
	require.Error(t, err)
	assert.True(t, tradeerr.IsValidation(err))
	assert.False(t, fx.svc.orch.Running())
}

func TestStartTradingOpensAndProtects(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong()}

	id, err := fx.svc.StartTrading(testSettings())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	fx.wait(t)

	assert.Equal(t, orchestrator.Progress{TaskName: "open positions", Total: 1, SuccessCount: 1, IsFinal: true}, fx.rec.progress())
	assert.Equal(t, 20, fx.ex.Leverage["BTCUSDT"])

	submitted := fx.ex.SubmittedOrders()
	limits := byType(submitted, common.OrderTypeLimit)
	require.Len(t, limits, 1)
	assert.Equal(t, common.SideBuy, limits[0].Side)
	assert.Equal(t, 50000.0, limits[0].Price)
	assert.InDelta(t, 0.02, limits[0].Qty, 1e-12)
	assert.False(t, limits[0].ReduceOnly)

	assert.Len(t, byType(submitted, common.OrderTypeStopMarket), 1)
	assert.Len(t, byType(submitted, common.OrderTypeTakeProfitMarket), 1)
}

func TestOpenFailsWhenPositionNeverAppears(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.StartTrading(testSettings())
	require.NoError(t, err)
	fx.wait(t)

	p := fx.rec.progress()
	assert.Equal(t, 1, p.FailedCount)
	assert.Empty(t, byType(fx.ex.SubmittedOrders(), common.OrderTypeStopMarket))
}

func TestOpenUnknownCoinIsValidationFailure(t *testing.T) {
	fx := newFixture(t)
	s := testSettings()
	s.LongCoinList = []string{"NOPE"}

	_, err := fx.svc.StartTrading(s)
	require.NoError(t, err)
	fx.wait(t)

	require.Equal(t, 1, fx.rec.progress().FailedCount)
	err = fx.rec.errs["open long NOPE $1000.00"]
	require.Error(t, err)
	assert.True(t, tradeerr.IsValidation(err))
	assert.Empty(t, fx.ex.SubmittedOrders())
}

func TestCloseBySideClosesOnlyThatSide(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong(), ethShort()}
	fx.ex.OpenOrders = []common.OpenOrder{
		{Symbol: "ETHUSDT", OrderID: "eth-sl", Type: common.OrderTypeStopMarket, ReduceOnly: true},
	}
	closed, unsubscribe := fx.hub.Bus().Subscribe(events.EventPositionClosed, 4)
	defer unsubscribe()

	_, err := fx.svc.CloseBySide(context.Background(), testSettings(), "short", 1)
	require.NoError(t, err)
	fx.wait(t)

	assert.Equal(t, 1, fx.rec.progress().SuccessCount)
	limits := byType(fx.ex.SubmittedOrders(), common.OrderTypeLimit)
	require.Len(t, limits, 1)
	assert.Equal(t, "ETHUSDT", limits[0].Symbol)
	assert.Equal(t, common.SideBuy, limits[0].Side)
	assert.True(t, limits[0].ReduceOnly)
	assert.InDelta(t, 1, limits[0].Qty, 1e-12)
	assert.Contains(t, fx.ex.CancelledIDs(), "eth-sl")

	select {
	case msg := <-closed:
		assert.Equal(t, events.PositionClosedMessage{Type: "position_closed", Symbol: "ETH", Ratio: 1}, msg)
	case <-time.After(time.Second):
		t.Fatal("no position_closed event")
	}
}

func TestCloseBySidePartialKeepsProtection(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong()}
	fx.ex.OpenOrders = []common.OpenOrder{
		{Symbol: "BTCUSDT", OrderID: "btc-sl", Type: common.OrderTypeStopMarket, ReduceOnly: true},
	}

	_, err := fx.svc.CloseBySide(context.Background(), testSettings(), "all", 0.5)
	require.NoError(t, err)
	fx.wait(t)

	limits := byType(fx.ex.SubmittedOrders(), common.OrderTypeLimit)
	require.Len(t, limits, 1)
	assert.Equal(t, common.SideSell, limits[0].Side)
	assert.Equal(t, 50010.0, limits[0].Price)
	assert.InDelta(t, 0.01, limits[0].Qty, 1e-12)
	assert.NotContains(t, fx.ex.CancelledIDs(), "btc-sl")
}

func TestCloseRejectsBadInput(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CloseBySide(context.Background(), testSettings(), "sideways", 1)
	assert.True(t, tradeerr.IsValidation(err))
	_, err = fx.svc.CloseBySide(context.Background(), testSettings(), "long", 0)
	assert.True(t, tradeerr.IsValidation(err))
	_, err = fx.svc.CloseMultiple(testSettings(), []string{" ", ""}, 1)
	assert.True(t, tradeerr.IsValidation(err))
	_, err = fx.svc.ClosePosition(testSettings(), "BTCUSDT", 1.5)
	assert.True(t, tradeerr.IsValidation(err))
	assert.False(t, fx.svc.orch.Running())
}

func TestCloseMissingPositionFails(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ClosePosition(testSettings(), "btcusdt", 1)
	require.NoError(t, err)
	fx.wait(t)

	require.Equal(t, 1, fx.rec.progress().FailedCount)
	assert.True(t, tradeerr.IsValidation(fx.rec.errs["close BTCUSDT 100%"]))
	assert.Empty(t, fx.ex.SubmittedOrders())
}

func TestExecutePlanRunsClosesAndOpens(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong(), ethShort()}

	_, err := fx.svc.ExecutePlan(testSettings(), []PlanOrder{
		{Symbol: "BTC", Action: "open", Side: "short", ValueToTrade: 500},
		{Symbol: "eth", Action: "CLOSE", Side: "short", CloseRatio: 0.5},
	})
	require.NoError(t, err)
	fx.wait(t)

	assert.Equal(t, 2, fx.rec.progress().SuccessCount)
	assert.Equal(t, orchestrator.OutcomeSuccess, fx.rec.outcomes["rebalance close short ETH 50%"])
	assert.Equal(t, orchestrator.OutcomeSuccess, fx.rec.outcomes["rebalance open short BTC $500.00"])

	limits := byType(fx.ex.SubmittedOrders(), common.OrderTypeLimit)
	require.Len(t, limits, 2)
	bySymbol := map[string]common.OrderRequest{}
	for _, o := range limits {
		bySymbol[o.Symbol] = o
	}
	assert.Equal(t, common.SideBuy, bySymbol["ETHUSDT"].Side)
	assert.True(t, bySymbol["ETHUSDT"].ReduceOnly)
	assert.InDelta(t, 0.5, bySymbol["ETHUSDT"].Qty, 1e-12)
	assert.Equal(t, common.SideSell, bySymbol["BTCUSDT"].Side)
	assert.False(t, bySymbol["BTCUSDT"].ReduceOnly)
}

func TestExecutePlanValidation(t *testing.T) {
	fx := newFixture(t)
	cases := map[string][]PlanOrder{
		"empty":      nil,
		"bad side":   {{Symbol: "BTC", Action: "OPEN", Side: "up", ValueToTrade: 10}},
		"bad action": {{Symbol: "BTC", Action: "HOLD", Side: "long"}},
		"no value":   {{Symbol: "BTC", Action: "OPEN", Side: "long"}},
		"bad ratio":  {{Symbol: "BTC", Action: "CLOSE", Side: "long", CloseRatio: 2}},
		"no symbol":  {{Action: "OPEN", Side: "long", ValueToTrade: 10}},
	}
	for name, orders := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.svc.ExecutePlan(testSettings(), orders)
			require.Error(t, err)
			assert.True(t, tradeerr.IsValidation(err))
		})
	}
	assert.False(t, fx.svc.orch.Running())
}

func TestSyncAllSLTPSweepsOrphans(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong()}
	fx.ex.OpenOrders = []common.OpenOrder{
		{Symbol: "XRPUSDT", OrderID: "orphan", Type: common.OrderTypeTakeProfitMarket, ReduceOnly: true},
		{Symbol: "XRPUSDT", OrderID: "plain", Type: common.OrderTypeLimit},
	}

	_, err := fx.svc.SyncAllSLTP(context.Background(), testSettings())
	require.NoError(t, err)
	fx.wait(t)

	assert.Equal(t, 1, fx.rec.progress().SuccessCount)
	cancelled := fx.ex.CancelledIDs()
	assert.Contains(t, cancelled, "orphan")
	assert.NotContains(t, cancelled, "plain")

	open, err := fx.ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestSecondBatchRejectedWhileRunning(t *testing.T) {
	fx := newFixture(t)
	fx.ex.FillAfterPolls = -1
	fx.ex.Positions = []common.PositionRisk{btcLong()}

	_, err := fx.svc.StartTrading(testSettings())
	require.NoError(t, err)

	_, err = fx.svc.CloseBySide(context.Background(), testSettings(), "all", 1)
	assert.ErrorIs(t, err, orchestrator.ErrBatchRunning)
	_, err = fx.svc.SyncAllSLTP(context.Background(), testSettings())
	assert.ErrorIs(t, err, orchestrator.ErrBatchRunning)

	assert.True(t, fx.svc.Stop())
	fx.wait(t)
	p := fx.rec.progress()
	assert.Zero(t, p.FailedCount)
	assert.Equal(t, 1, p.Interrupted+p.Skipped)
}

func TestPositionsListsThroughSession(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong(), ethShort()}

	list, err := fx.svc.Positions(context.Background(), 20)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 0, fx.svc.sessions.Stats().InUse)
}

func TestSweepOrphansKeepsActiveProtection(t *testing.T) {
	fx := newFixture(t)
	fx.ex.Positions = []common.PositionRisk{btcLong()}
	fx.ex.OpenOrders = []common.OpenOrder{
		{Symbol: "BTCUSDT", OrderID: "btc-sl", Type: common.OrderTypeStopMarket, ReduceOnly: true},
		{Symbol: "ETHUSDT", OrderID: "eth-tp", Type: common.OrderTypeTakeProfitMarket, ReduceOnly: true},
	}

	checked, cancelled, err := fx.svc.SweepOrphans(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, []string{"eth-tp"}, fx.ex.CancelledIDs())
}
