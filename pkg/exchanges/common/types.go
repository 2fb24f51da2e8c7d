package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the core submits or inspects.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsConditional reports whether t is a stop or take-profit trigger order.
func (t OrderType) IsConditional() bool {
	switch t {
	case OrderTypeStop, OrderTypeStopMarket, OrderTypeTakeProfit, OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_MARKET/TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool
	WorkingType string // MARK_PRICE or CONTRACT_PRICE
}

// OrderResult is the exchange view of one order.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Symbol          string
	Status          OrderStatus
	Price           float64
	OrigQty         float64
	ExecutedQty     float64
	AvgPrice        float64
}

// OpenOrder is a resting order as returned by the open-orders endpoint.
type OpenOrder struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Side          Side
	Type          OrderType
	Price         float64
	StopPrice     float64
	OrigQty       float64
	ReduceOnly    bool
	ClosePosition bool
}

// IsProtective reports whether o is a reduce-only stop or take-profit order.
func (o OpenOrder) IsProtective() bool {
	return (o.ReduceOnly || o.ClosePosition) && o.Type.IsConditional()
}

// PositionRisk is one raw position record. Numeric fields stay as strings so
// a malformed record can be skipped by the caller instead of failing decode.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	BreakEvenPrice   string `json:"breakEvenPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	InitialMargin    string `json:"initialMargin"`
	Notional         string `json:"notional"`
	Leverage         string `json:"leverage"`
}

// Ticker carries the prices the valuation path needs.
type Ticker struct {
	Symbol    string
	MarkPrice float64
	LastPrice float64
}

// Ticker24h is the rolling daily statistics record.
type Ticker24h struct {
	Symbol      string
	LastPrice   float64
	Volume      float64
	QuoteVolume float64
}

// OrderBook holds the top levels, best first.
type OrderBook struct {
	Symbol string
	Bids   []Level
	Asks   []Level
}

// Level is one price level.
type Level struct {
	Price float64
	Qty   float64
}

// BestBid returns the highest bid, or false when the side is empty.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 || b.Bids[0].Price <= 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or false when the side is empty.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 || b.Asks[0].Price <= 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketInfo holds the trading rules of one symbol.
type MarketInfo struct {
	Symbol   string
	Base     string
	Quote    string
	Status   string
	TickSize float64
	StepSize float64
	MinQty   float64
}
