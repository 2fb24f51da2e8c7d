package positions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/internal/exchangetest"
	"hedge-core/pkg/exchanges/common"
)

func TestListComputesPNLFromBreakEven(t *testing.T) {
	f := exchangetest.New()
	f.AddMarket(common.MarketInfo{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"})
	f.Positions = []common.PositionRisk{{
		Symbol: "BTCUSDT", PositionAmt: "0.1", EntryPrice: "50000", BreakEvenPrice: "50000",
		InitialMargin: "275", UnRealizedProfit: "123",
	}}
	f.Tickers["BTCUSDT"] = common.Ticker{Symbol: "BTCUSDT", MarkPrice: 55000}

	list, err := NewService(f).List(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, list, 1)

	p := list[0]
	assert.Equal(t, "BTC", p.Symbol)
	assert.Equal(t, "BTCUSDT", p.FullSymbol)
	assert.Equal(t, SideLong, p.Side)
	assert.InDelta(t, 0.1, p.Contracts, 1e-12)
	assert.InDelta(t, 5500, p.Notional, 1e-6)
	assert.InDelta(t, 500, p.PNL, 1e-6)
	assert.InDelta(t, 181.818, p.PNLPercentage, 0.001)
}

func TestListShortFallsBackToUnrealizedAndLeverageMargin(t *testing.T) {
	f := exchangetest.New()
	f.Positions = []common.PositionRisk{{
		Symbol: "ETHUSDC", PositionAmt: "-2", EntryPrice: "3000", UnRealizedProfit: "-40", MarkPrice: "3020",
	}}

	list, err := NewService(f).List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	p := list[0]
	assert.Equal(t, "ETH", p.Symbol, "suffix fallback without market metadata")
	assert.Equal(t, SideShort, p.Side)
	assert.InDelta(t, 2, p.Contracts, 1e-12)
	assert.InDelta(t, 3020, p.MarkPrice, 1e-9)
	assert.InDelta(t, 6040, p.Notional, 1e-9)
	assert.InDelta(t, -40, p.PNL, 1e-9)
	assert.InDelta(t, -40/604.0*100, p.PNLPercentage, 1e-9)
}

func TestListSkipsMalformedAndFlatRecords(t *testing.T) {
	f := exchangetest.New()
	f.Positions = []common.PositionRisk{
		{Symbol: "BTCUSDT", PositionAmt: "0.5", EntryPrice: "oops"},
		{Symbol: "ETHUSDT", PositionAmt: "0"},
		{Symbol: "SOLUSDT", PositionAmt: "3", EntryPrice: "100", InitialMargin: "30"},
	}
	f.Tickers["BTCUSDT"] = common.Ticker{MarkPrice: 60000}
	f.Tickers["SOLUSDT"] = common.Ticker{MarkPrice: 110}

	list, err := NewService(f).List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "SOL", list[0].Symbol)
	assert.Equal(t, 1, f.TickerCalls)
}

func TestListEmptyAccountSkipsTickerCall(t *testing.T) {
	f := exchangetest.New()
	list, err := NewService(f).List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, f.TickerCalls)
}

func TestGetFindsByFullSymbol(t *testing.T) {
	f := exchangetest.New()
	f.Positions = []common.PositionRisk{{Symbol: "SOLUSDT", PositionAmt: "3", EntryPrice: "100"}}
	f.Tickers["SOLUSDT"] = common.Ticker{MarkPrice: 110}
	svc := NewService(f)

	p, ok, err := svc.Get(context.Background(), "SOLUSDT", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 330, p.Notional, 1e-9)

	_, ok, err = svc.Get(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseAmountNeverExceedsContracts(t *testing.T) {
	for _, ratio := range []float64{0.01, 0.1, 0.25, 0.333, 0.5, 0.75, 0.999, 1} {
		got := CloseAmount(0.123, ratio, 0.001)
		assert.LessOrEqual(t, got, 0.123, "ratio %v", ratio)
		assert.GreaterOrEqual(t, got, 0.0)
	}
	assert.Equal(t, 0.123, CloseAmount(0.123, 1, 0.001))
	assert.Equal(t, 0.061, CloseAmount(0.123, 0.5, 0.001))
	assert.Equal(t, 0.0, CloseAmount(0.123, 0, 0.001))
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" Short ")
	require.True(t, ok)
	assert.Equal(t, SideShort, s)
	assert.Equal(t, common.SideBuy, s.CloseSide())
	assert.Equal(t, common.SideSell, SideLong.CloseSide())

	_, ok = ParseSide("both")
	assert.False(t, ok)
}
