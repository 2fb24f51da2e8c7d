package sltp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/internal/exchangetest"
	"hedge-core/internal/positions"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/exchanges/common"
)

var btcMarket = common.MarketInfo{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}

func testConfig() Config {
	return Config{
		EnableLong: true, LongStopLossPct: 50, LongTakeProfitPct: 100,
		EnableShort: true, ShortStopLossPct: 80, ShortTakeProfitPct: 150,
		Leverage: 20,
	}
}

func newFixture() (*exchangetest.Fake, *Synchronizer) {
	f := exchangetest.New()
	f.AddMarket(btcMarket)
	f.Positions = []common.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: "0.01", EntryPrice: "50000"}}
	f.Tickers["BTCUSDT"] = common.Ticker{MarkPrice: 51000}
	return f, New(f, positions.NewService(f), nil)
}

func conditional(orders []common.OrderRequest) []common.OrderRequest {
	var out []common.OrderRequest
	for _, o := range orders {
		if o.Type.IsConditional() {
			out = append(out, o)
		}
	}
	return out
}

func TestTargetsLongAndShort(t *testing.T) {
	cfg := testConfig()

	long, ok := Targets(positions.Position{Side: positions.SideLong, EntryPrice: 50000}, cfg, btcMarket)
	require.True(t, ok)
	assert.InDelta(t, 48750, long.StopLoss, 1e-9)
	assert.InDelta(t, 52500, long.TakeProfit, 1e-9)

	short, ok := Targets(positions.Position{Side: positions.SideShort, EntryPrice: 3000}, cfg, btcMarket)
	require.True(t, ok)
	assert.InDelta(t, 3120, short.StopLoss, 1e-9)
	assert.InDelta(t, 2775, short.TakeProfit, 1e-9)
}

func TestTargetsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableShort = false
	_, ok := Targets(positions.Position{Side: positions.SideShort, EntryPrice: 3000}, cfg, btcMarket)
	assert.False(t, ok)

	cfg = testConfig()
	cfg.LongTakeProfitPct = 0
	_, ok = Targets(positions.Position{Side: positions.SideLong, EntryPrice: 3000}, cfg, btcMarket)
	assert.False(t, ok)
}

func TestSyncReplacesProtectiveOrders(t *testing.T) {
	f, s := newFixture()
	f.OpenOrders = []common.OpenOrder{
		{Symbol: "BTCUSDT", OrderID: "old-sl", Type: common.OrderTypeStopMarket, ReduceOnly: true},
		{Symbol: "BTCUSDT", OrderID: "resting", Type: common.OrderTypeLimit},
	}

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"old-sl"}, f.CancelledIDs())

	placed := conditional(f.SubmittedOrders())
	require.Len(t, placed, 2)
	for _, o := range placed {
		assert.True(t, o.ReduceOnly)
		assert.Equal(t, common.SideSell, o.Side)
		assert.Equal(t, 0.01, o.Qty)
	}
}

func TestSyncIsDeterministic(t *testing.T) {
	f, s := newFixture()
	pos := positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}

	_, err := s.Sync(context.Background(), pos, testConfig())
	require.NoError(t, err)
	_, err = s.Sync(context.Background(), pos, testConfig())
	require.NoError(t, err)

	placed := conditional(f.SubmittedOrders())
	require.Len(t, placed, 4)
	stops := map[common.OrderType][]float64{}
	for _, o := range placed {
		stops[o.Type] = append(stops[o.Type], o.StopPrice)
	}
	assert.Equal(t, []float64{48750, 48750}, stops[common.OrderTypeStopMarket])
	assert.Equal(t, []float64{52500, 52500}, stops[common.OrderTypeTakeProfitMarket])

	// The second run cancelled the first run's pair.
	assert.Len(t, f.CancelledIDs(), 2)
	open, _ := f.FetchOpenOrders(context.Background(), "BTCUSDT")
	assert.Len(t, open, 2)
}

func TestSyncPartialFailureReturnsFalse(t *testing.T) {
	f, s := newFixture()
	f.SubmitErrs = []error{&common.APIError{Status: 400, Code: -2021, Msg: "Order would immediately trigger."}}

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncNotRequiredCountsAsSuccess(t *testing.T) {
	f, s := newFixture()
	notRequired := &common.APIError{Status: 400, Code: common.CodeNotRequired, Msg: "Parameter 'reduceonly' sent when not required."}
	f.SubmitErrs = []error{notRequired, notRequired}

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncBothRejectedReturnsError(t *testing.T) {
	f, s := newFixture()
	rejected := &common.APIError{Status: 400, Code: -2021, Msg: "Order would immediately trigger."}
	f.SubmitErrs = []error{rejected, rejected}

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	require.Error(t, err)
	assert.False(t, ok)
}

func TestSyncGonePositionOnlyCleans(t *testing.T) {
	f, s := newFixture()
	f.Positions = nil
	f.OpenOrders = []common.OpenOrder{{Symbol: "BTCUSDT", OrderID: "tp", Type: common.OrderTypeTakeProfitMarket, ReduceOnly: true}}

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"tp"}, f.CancelledIDs())
	assert.Empty(t, f.SubmittedOrders())
}

func TestSyncDisabledOnlyCleans(t *testing.T) {
	f, s := newFixture()
	f.OpenOrders = []common.OpenOrder{{Symbol: "BTCUSDT", OrderID: "sl", Type: common.OrderTypeStop, ClosePosition: true}}
	cfg := testConfig()
	cfg.EnableLong = false

	ok, err := s.Sync(context.Background(), positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, cfg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"sl"}, f.CancelledIDs())
	assert.Empty(t, f.SubmittedOrders())
}

func TestSyncCancelledContextIsInterrupted(t *testing.T) {
	_, s := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sync(ctx, positions.Position{Symbol: "BTC", FullSymbol: "BTCUSDT"}, testConfig())
	assert.True(t, tradeerr.IsInterrupted(err))
}

func TestCleanupOrphans(t *testing.T) {
	f, s := newFixture()
	f.OpenOrders = []common.OpenOrder{
		{Symbol: "BTCUSDT", OrderID: "1", Type: common.OrderTypeStopMarket, ReduceOnly: true},
		{Symbol: "DOGEUSDT", OrderID: "2", Type: common.OrderTypeTakeProfitMarket, ReduceOnly: true},
		{Symbol: "DOGEUSDT", OrderID: "3", Type: common.OrderTypeLimit, ReduceOnly: true},
	}

	n, err := s.CleanupOrphans(context.Background(), map[string]bool{"BTCUSDT": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2"}, f.CancelledIDs())
}
