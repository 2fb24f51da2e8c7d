// Package exchangetest provides an in-memory common.Exchange for tests.
package exchangetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"hedge-core/pkg/exchanges/common"
)

// Fake is a scriptable exchange. Zero values behave like an empty venue;
// set the exported maps and hooks before use.
type Fake struct {
	mu sync.Mutex

	Markets    map[string]common.MarketInfo
	Books      map[string]common.OrderBook
	Positions  []common.PositionRisk
	Tickers    map[string]common.Ticker
	Tickers24h []common.Ticker24h
	Candles    map[string][]common.Candle
	OpenOrders []common.OpenOrder

	// FillAfterPolls fills a limit order on the Nth FetchOrder call.
	// Negative means never fill.
	FillAfterPolls int
	// SubmitErrs are returned by successive SubmitOrder calls; nil entries
	// let the call through.
	SubmitErrs []error
	// PositionsErr fails FetchPositions.
	PositionsErr error

	SubmitHook     func(req common.OrderRequest) (common.OrderResult, error)
	FetchOrderHook func(symbol, id string, poll int) (common.OrderResult, error)
	CancelHook     func(symbol, id string) error

	Submitted   []common.OrderRequest
	Cancelled   []string
	Leverage    map[string]int
	TickerCalls int
	CandleCalls map[string]int

	orders map[string]*fakeOrder
	nextID int
}

type fakeOrder struct {
	req    common.OrderRequest
	status common.OrderStatus
	polls  int
}

var _ common.Exchange = (*Fake)(nil)

// New returns a Fake that fills limit orders on the first poll.
func New() *Fake {
	return &Fake{
		Markets:        map[string]common.MarketInfo{},
		Books:          map[string]common.OrderBook{},
		Tickers:        map[string]common.Ticker{},
		Candles:        map[string][]common.Candle{},
		Leverage:       map[string]int{},
		CandleCalls:    map[string]int{},
		FillAfterPolls: 1,
	}
}

// AddMarket registers a symbol with its trading rules.
func (f *Fake) AddMarket(m common.MarketInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Markets[m.Symbol] = m
}

func (f *Fake) FetchPositions(context.Context) ([]common.PositionRisk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionsErr != nil {
		return nil, f.PositionsErr
	}
	return append([]common.PositionRisk(nil), f.Positions...), nil
}

// SetPositions replaces the position list.
func (f *Fake) SetPositions(p []common.PositionRisk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Positions = p
}

func (f *Fake) FetchTickers(_ context.Context, symbols []string) (map[string]common.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TickerCalls++
	out := make(map[string]common.Ticker, len(symbols))
	for _, s := range symbols {
		if t, ok := f.Tickers[s]; ok {
			out[s] = t
		}
	}
	return out, nil
}

func (f *Fake) Fetch24hTickers(context.Context) ([]common.Ticker24h, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Ticker24h(nil), f.Tickers24h...), nil
}

func (f *Fake) FetchOrderBook(_ context.Context, symbol string, _ int) (common.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Books[symbol]
	if !ok {
		return common.OrderBook{Symbol: symbol}, nil
	}
	return b, nil
}

func (f *Fake) FetchCandles(_ context.Context, symbol, _ string, limit int) ([]common.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CandleCalls[symbol]++
	c := f.Candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]common.Candle(nil), c...), nil
}

func (f *Fake) SubmitOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submitted = append(f.Submitted, req)

	if len(f.SubmitErrs) > 0 {
		err := f.SubmitErrs[0]
		f.SubmitErrs = f.SubmitErrs[1:]
		if err != nil {
			return common.OrderResult{}, err
		}
	}
	if f.SubmitHook != nil {
		return f.SubmitHook(req)
	}

	f.nextID++
	id := strconv.Itoa(f.nextID)
	if f.orders == nil {
		f.orders = map[string]*fakeOrder{}
	}
	f.orders[id] = &fakeOrder{req: req, status: common.StatusNew}
	if req.Type.IsConditional() {
		f.OpenOrders = append(f.OpenOrders, common.OpenOrder{
			Symbol: req.Symbol, OrderID: id, Side: req.Side, Type: req.Type,
			StopPrice: req.StopPrice, OrigQty: req.Qty, ReduceOnly: req.ReduceOnly,
		})
	}
	return common.OrderResult{ExchangeOrderID: id, Symbol: req.Symbol, Status: common.StatusNew, OrigQty: req.Qty, Price: req.Price}, nil
}

func (f *Fake) CancelOrder(_ context.Context, symbol, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, id)
	if f.CancelHook != nil {
		if err := f.CancelHook(symbol, id); err != nil {
			return err
		}
	}
	for i, o := range f.OpenOrders {
		if o.OrderID == id && o.Symbol == symbol {
			f.OpenOrders = append(f.OpenOrders[:i], f.OpenOrders[i+1:]...)
			break
		}
	}
	if o, ok := f.orders[id]; ok && o.status != common.StatusFilled {
		o.status = common.StatusCanceled
	}
	return nil
}

func (f *Fake) FetchOrder(_ context.Context, symbol, id string) (common.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return common.OrderResult{}, &common.APIError{Status: 400, Code: common.CodeNoSuchOrder, Msg: "Order does not exist."}
	}
	o.polls++
	if f.FetchOrderHook != nil {
		return f.FetchOrderHook(symbol, id, o.polls)
	}
	if o.status == common.StatusNew && f.FillAfterPolls >= 0 && o.polls >= f.FillAfterPolls {
		o.status = common.StatusFilled
	}
	res := common.OrderResult{ExchangeOrderID: id, Symbol: symbol, Status: o.status, OrigQty: o.req.Qty, Price: o.req.Price}
	if o.status == common.StatusFilled {
		res.ExecutedQty = o.req.Qty
		res.AvgPrice = o.req.Price
	}
	return res, nil
}

func (f *Fake) FetchOpenOrders(_ context.Context, symbol string) ([]common.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []common.OpenOrder
	for _, o := range f.OpenOrders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Leverage[symbol] = leverage
	return nil
}

func (f *Fake) Market(_ context.Context, symbol string) (common.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Markets[symbol]
	if !ok {
		return common.MarketInfo{}, fmt.Errorf("market %s not found", symbol)
	}
	return m, nil
}

// SubmittedOrders returns a copy of every submitted request.
func (f *Fake) SubmittedOrders() []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.OrderRequest(nil), f.Submitted...)
}

// CancelledIDs returns a copy of every cancelled order id.
func (f *Fake) CancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Cancelled...)
}
