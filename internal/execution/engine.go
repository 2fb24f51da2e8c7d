// Package execution places post-only maker orders and drives each attempt
// through price discovery, submission and fill polling with bounded retries.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "execution")

// ErrRetriesExhausted marks an order that never filled within its retries.
var ErrRetriesExhausted = errors.New("maker order retries exhausted")

const (
	defaultPollInterval = 3 * time.Second
	defaultRetryDelay   = 3 * time.Second
	bookDepth           = 5
	cancelGrace         = 5 * time.Second
)

// Config tunes polling and retry pacing.
type Config struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// Engine places maker orders against one exchange session.
type Engine struct {
	ex  common.Exchange
	cfg Config
	now func() time.Time
}

// New creates an engine bound to ex.
func New(ex common.Exchange, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Engine{ex: ex, cfg: cfg, now: time.Now}
}

// PlaceMakerOrder runs attempts until the order fills, a non-retryable error
// occurs, ctx is cancelled or MaxRetries retries are used up. Quantity that
// filled in an earlier attempt is not placed again.
func (e *Engine) PlaceMakerOrder(ctx context.Context, req Request) (Result, error) {
	if req.Value <= 0 && req.Contracts <= 0 {
		return Result{}, tradeerr.Wrap(tradeerr.Validation, "place maker order", req.Symbol,
			errors.New("either value or contracts must be positive"))
	}
	if req.Timeout <= 0 {
		return Result{}, tradeerr.Wrap(tradeerr.Validation, "place maker order", req.Symbol,
			errors.New("fill timeout must be positive"))
	}

	market, err := e.ex.Market(ctx, req.Symbol)
	if err != nil {
		return Result{}, e.classify(ctx, "load market", req.Symbol, err)
	}

	entry := log.WithFields(logrus.Fields{"symbol": req.Symbol, "side": req.Side})
	var (
		filledQty, filledNotional decimal.Decimal
		lastErr                   error
	)
	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		if attempt > 0 {
			entry.Infof("retrying maker order (%d/%d) after: %v", attempt, req.MaxRetries, lastErr)
			if err := sleep(ctx, e.cfg.RetryDelay); err != nil {
				return Result{}, tradeerr.Wrap(tradeerr.Interrupted, "retry wait", req.Symbol, err)
			}
		}

		remaining := req
		if req.Contracts > 0 {
			remaining.Contracts = decimal.NewFromFloat(req.Contracts).Sub(filledQty).InexactFloat64()
		} else {
			remaining.Value = decimal.NewFromFloat(req.Value).Sub(filledNotional).InexactFloat64()
		}

		order, err := e.attempt(ctx, remaining, market, entry)
		if order != nil && order.Qty > 0 {
			q := decimal.NewFromFloat(order.Qty)
			filledQty = filledQty.Add(q)
			filledNotional = filledNotional.Add(q.Mul(decimal.NewFromFloat(order.Price)))
		}
		// A remainder below the exchange minimum after partial fills is done.
		if err == nil || (filledQty.IsPositive() && tradeerr.IsValidation(err)) {
			res := Result{Qty: filledQty.InexactFloat64(), Attempts: attempt + 1}
			if order != nil {
				res.OrderID = order.ID
			}
			if filledQty.IsPositive() {
				res.Price = filledNotional.Div(filledQty).InexactFloat64()
			}
			entry.WithField("attempts", res.Attempts).Infof("✅ maker order filled: qty=%v avg=%v", res.Qty, res.Price)
			return res, nil
		}

		if tradeerr.KindOf(err) != tradeerr.Retryable {
			return Result{}, err
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("%s: %w after %d attempts: %v", req.Symbol, ErrRetriesExhausted, req.MaxRetries+1, lastErr)
}

// attempt runs one pass of the state machine. The returned order carries the
// quantity filled by this attempt in Qty, which can be non-zero on error
// when the order partially filled before it was cancelled.
func (e *Engine) attempt(ctx context.Context, req Request, market common.MarketInfo, entry *logrus.Entry) (*Order, error) {
	state := StateInit
	transition := func(to State) {
		entry.Debugf("%s -> %s", state, to)
		state = to
	}

	transition(StatePriceDiscovery)
	book, err := e.ex.FetchOrderBook(ctx, req.Symbol, bookDepth)
	if err != nil {
		return nil, e.classify(ctx, "fetch order book", req.Symbol, err)
	}
	var (
		price float64
		ok    bool
	)
	if req.Side == common.SideBuy {
		price, ok = book.BestBid()
	} else {
		price, ok = book.BestAsk()
	}
	if !ok {
		return nil, tradeerr.Wrap(tradeerr.Retryable, "price discovery", req.Symbol, errors.New("order book side is empty"))
	}
	price = market.RoundPrice(price)

	qty := req.Contracts
	if qty <= 0 {
		qty = req.Value / price
	}
	qty = market.RoundQty(qty)
	if qty <= 0 || qty < market.MinQty {
		return nil, tradeerr.Wrap(tradeerr.Validation, "size order", req.Symbol,
			fmt.Errorf("quantity %v below exchange minimum %v", qty, market.MinQty))
	}

	res, err := e.ex.SubmitOrder(ctx, common.OrderRequest{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        common.OrderTypeLimit,
		Qty:         qty,
		Price:       price,
		TimeInForce: common.TIFGTX,
		ReduceOnly:  req.ReduceOnly,
		ClientID:    "hc" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
	if err != nil {
		transition(StateRejectedByExchange)
		return nil, e.classify(ctx, "submit order", req.Symbol, err)
	}
	order := &Order{ID: res.ExchangeOrderID, Price: price}
	transition(StateSubmitted)
	entry.Infof("maker order %s placed: qty=%v price=%v", order.ID, qty, price)

	if res.Status == common.StatusExpired || res.Status == common.StatusRejected {
		transition(StateRejectedByExchange)
		return withFill(order, res), tradeerr.Wrap(tradeerr.Retryable, "submit order", req.Symbol,
			fmt.Errorf("post-only order %s", strings.ToLower(string(res.Status))))
	}

	deadline := e.now().Add(req.Timeout)
	for {
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return e.abandon(order, req.Symbol, entry), tradeerr.Wrap(tradeerr.Interrupted, "poll order", req.Symbol, err)
		}

		status, err := e.ex.FetchOrder(ctx, req.Symbol, order.ID)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return e.abandon(order, req.Symbol, entry), tradeerr.Wrap(tradeerr.Interrupted, "poll order", req.Symbol, ctx.Err())
		case common.IsUnknownOrder(err):
			entry.Debugf("order %s not visible yet", order.ID)
		case tradeerr.IsRetryable(err):
			entry.Warnf("⚠️ transient error polling %s: %v", order.ID, err)
		default:
			e.cancelResting(order, req.Symbol, entry)
			return order, e.classify(ctx, "poll order", req.Symbol, err)
		}

		if err == nil {
			switch status.Status {
			case common.StatusFilled:
				transition(StateFilled)
				return withFill(order, status), nil
			case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
				transition(StateRejectedByExchange)
				return withFill(order, status), tradeerr.Wrap(tradeerr.Retryable, "poll order", req.Symbol,
					fmt.Errorf("order %s %s by exchange", order.ID, strings.ToLower(string(status.Status))))
			}
		}

		if !e.now().Before(deadline) {
			final := e.cancelResting(order, req.Symbol, entry)
			transition(StateTimedOutCancelled)
			if final.Status == common.StatusFilled {
				transition(StateFilled)
				return withFill(order, final), nil
			}
			return withFill(order, final), tradeerr.Wrap(tradeerr.Retryable, "poll order", req.Symbol,
				fmt.Errorf("unfilled within %s", req.Timeout))
		}
	}
}

// cancelResting cancels the order on a fresh context and returns its final
// known state. A cancel that races a fill reports the fill.
func (e *Engine) cancelResting(order *Order, symbol string, entry *logrus.Entry) common.OrderResult {
	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()

	if err := e.ex.CancelOrder(ctx, symbol, order.ID); err != nil && !common.IsUnknownOrder(err) {
		entry.Warnf("⚠️ cancel order %s failed: %v", order.ID, err)
	}
	final, err := e.ex.FetchOrder(ctx, symbol, order.ID)
	if err != nil {
		return common.OrderResult{Status: common.StatusCanceled}
	}
	return final
}

// abandon cancels the resting order after an interruption.
func (e *Engine) abandon(order *Order, symbol string, entry *logrus.Entry) *Order {
	entry.Warnf("⚠️ interrupted, cancelling order %s", order.ID)
	return withFill(order, e.cancelResting(order, symbol, entry))
}

func (e *Engine) classify(ctx context.Context, op, symbol string, err error) error {
	if ctx.Err() != nil {
		return tradeerr.Wrap(tradeerr.Interrupted, op, symbol, err)
	}
	return tradeerr.Wrap(tradeerr.KindOf(err), op, symbol, err)
}

func withFill(order *Order, res common.OrderResult) *Order {
	out := *order
	out.Qty = res.ExecutedQty
	if res.AvgPrice > 0 {
		out.Price = res.AvgPrice
	}
	if res.Status == common.StatusFilled && out.Qty == 0 {
		out.Qty = res.OrigQty
	}
	return &out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
